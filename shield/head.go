package shield

import "net/http"

// HeadToGet serves HEAD through GET routes, so uptime checks that send HEAD
// /health get 200 instead of 405. net/http drops the body for HEAD.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
