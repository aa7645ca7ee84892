package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

type fakeChannel struct {
	name string
	err  error
	sent []*Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, msg *Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

var fixedNow = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func quietDispatcher(chs ...Channel) *Dispatcher {
	return NewDispatcher(chs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }))
}

func sampleRecords() []records.Record {
	return []records.Record{
		{"title": "A", "date": "2024-01-01", "link": "https://x"},
		{"title": "B <script>", "link": "javascript:alert(1)"},
	}
}

func TestDispatcher_WebhookFailsSMTPSucceeds(t *testing.T) {
	// WHAT: A failing webhook falls through to SMTP, which gets exactly one message.
	// WHY: The webhook is attempted once and not retried; delivery is still reported.
	hook := &fakeChannel{name: "webhook", err: &SendError{Channel: "webhook", Cause: errors.New("status 502")}}
	smtp := &fakeChannel{name: "smtp"}
	sim := &fakeChannel{name: "simulate"}

	if !quietDispatcher(hook, smtp, sim).Notify(context.Background(), "ops@example.org", sampleRecords(), false) {
		t.Fatal("delivered = false, want true")
	}
	if len(hook.sent) != 1 {
		t.Errorf("webhook attempts = %d, want 1", len(hook.sent))
	}
	if len(smtp.sent) != 1 {
		t.Fatalf("smtp messages = %d, want 1", len(smtp.sent))
	}
	if len(sim.sent) != 0 {
		t.Errorf("simulate reached after success: %d", len(sim.sent))
	}
	if smtp.sent[0].Kind != KindUpdate {
		t.Errorf("kind = %q, want %q", smtp.sent[0].Kind, KindUpdate)
	}
}

func TestDispatcher_AllFail(t *testing.T) {
	// WHAT: Every channel failing yields false, not a panic or error.
	// WHY: Notification failure must not stop the job from advancing.
	a := &fakeChannel{name: "webhook", err: errors.New("down")}
	b := &fakeChannel{name: "smtp", err: errors.New("auth")}

	if quietDispatcher(a, b).Notify(context.Background(), "ops@example.org", nil, false) {
		t.Fatal("delivered = true, want false")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("attempts = %d/%d, want 1/1", len(a.sent), len(b.sent))
	}
}

func TestDispatcher_TemplateSelection(t *testing.T) {
	tests := []struct {
		name      string
		manual    bool
		recs      []records.Record
		duplicate bool
		want      Kind
	}{
		{"scheduled duplicate", false, sampleRecords(), true, KindNoChange},
		{"scheduled empty", false, nil, false, KindNoUpdate},
		{"scheduled new", false, sampleRecords(), false, KindUpdate},
		{"manual duplicate", true, sampleRecords(), true, KindRepeated},
		{"manual empty", true, []records.Record{}, false, KindNoUpdate},
		{"manual new", true, sampleRecords(), false, KindUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{name: "simulate"}
			d := quietDispatcher(ch)
			if tt.manual {
				d.NotifyManual(context.Background(), "r@example.org", tt.recs, tt.duplicate)
			} else {
				d.Notify(context.Background(), "r@example.org", tt.recs, tt.duplicate)
			}
			if len(ch.sent) != 1 {
				t.Fatalf("sent = %d, want 1", len(ch.sent))
			}
			if got := ch.sent[0].Kind; got != tt.want {
				t.Errorf("kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompose_UpdateListsRecords(t *testing.T) {
	// WHAT: The update body enumerates title, date and link, escaped.
	m, err := Compose(KindUpdate, "r@example.org", sampleRecords(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if m.Subject != "pagewatch: update found (2 items)" {
		t.Errorf("subject = %q", m.Subject)
	}
	for _, want := range []string{"<strong>A</strong>", "(2024-01-01)", `href="https://x"`, "B &lt;script&gt;", "2024-01-01 09:30"} {
		if !strings.Contains(m.HTML, want) {
			t.Errorf("body missing %q:\n%s", want, m.HTML)
		}
	}
	if strings.Contains(m.HTML, `href="javascript:`) {
		t.Errorf("unsafe link rendered:\n%s", m.HTML)
	}
}

func TestCompose_NoChangeOmitsRecords(t *testing.T) {
	m, err := Compose(KindNoChange, "r@example.org", sampleRecords(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if m.Records != nil {
		t.Errorf("records carried on no-change message: %v", m.Records)
	}
	if strings.Contains(m.HTML, "<li>") {
		t.Errorf("no-change body lists items:\n%s", m.HTML)
	}
	if !strings.Contains(m.Subject, "unchanged") {
		t.Errorf("subject = %q", m.Subject)
	}
}

func TestCompose_UnknownKind(t *testing.T) {
	if _, err := Compose(Kind("bogus"), "r", nil, fixedNow); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestWebhook_SignsBody(t *testing.T) {
	// WHAT: The webhook posts the message JSON with a verifiable HMAC header.
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := Compose(KindUpdate, "r@example.org", sampleRecords(), fixedNow)
	if err := w.Send(context.Background(), m); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if want := "sha256=" + Sign([]byte(testSecret), gotBody); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	var decoded Message
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Recipient != "r@example.org" || len(decoded.Records) != 2 {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestWebhook_Non2xxIsSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := Compose(KindNoUpdate, "r@example.org", nil, fixedNow)
	err = w.Send(context.Background(), m)
	var se *SendError
	if !errors.As(err, &se) || se.Channel != "webhook" {
		t.Fatalf("err = %v, want *SendError from webhook", err)
	}
}

func TestNewWebhook_ShortSecret(t *testing.T) {
	if _, err := NewWebhook(WebhookConfig{URL: "https://hooks.example.org", Secret: "short"}); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestFromConfig_Chain(t *testing.T) {
	// WHAT: Channels appear only when configured and simulate always closes the chain.
	quiet := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"nothing", Config{}, "simulate"},
		{"smtp", Config{SMTP: SMTPConfig{Username: "u@example.org", Password: "p"}}, "smtp,simulate"},
		{"smtp without password", Config{SMTP: SMTPConfig{Username: "u@example.org"}}, "simulate"},
		{"both", Config{
			Webhook: WebhookConfig{URL: "https://hooks.example.org/x"},
			SMTP:    SMTPConfig{Username: "u@example.org", Password: "p"},
		}, "webhook,smtp,simulate"},
		{"bad webhook", Config{Webhook: WebhookConfig{URL: "ftp://x"}}, "simulate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(FromConfig(tt.cfg, quiet).Channels(), ",")
			if got != tt.want {
				t.Errorf("chain = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSMTP_BuildMsg(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Username: "bot@example.org", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := Compose(KindNoChange, "ops@example.org", nil, fixedNow)
	msg, err := s.buildMsg(m)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ops@example.org", "bot@example.org", "content unchanged", "text/html"} {
		if !strings.Contains(out, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSMTP_RequiresCredentials(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{Username: "u"}); err == nil {
		t.Fatal("expected error without password")
	}
}
