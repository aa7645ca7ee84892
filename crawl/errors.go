package crawl

import "errors"

// ErrInvalidInput is returned when a request or configuration fails validation.
var ErrInvalidInput = errors.New("crawl: invalid input")

// ErrNotFound is returned when a schedule does not exist.
var ErrNotFound = errors.New("crawl: not found")
