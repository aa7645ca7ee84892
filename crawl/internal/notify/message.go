// Package notify turns a crawl outcome into an operator message and delivers
// it over the first channel that accepts it.
//
// Delivery never fails loudly. A Dispatcher tries each configured channel in
// order and reports whether any of them took the message; the caller records
// that and moves on.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/hazyhaar/pagewatch/crawl/internal/records"
)

// Kind selects the subject and body template of a message.
type Kind string

const (
	// KindUpdate lists the records of a non-duplicate, non-empty result.
	KindUpdate Kind = "update"
	// KindNoUpdate reports an extraction that found nothing.
	KindNoUpdate Kind = "no_update"
	// KindNoChange reports a scheduled result identical to the last one.
	KindNoChange Kind = "no_change"
	// KindRepeated reports a manual check that matched an earlier check today.
	KindRepeated Kind = "repeated"
)

// ScheduledKind picks the template for a scheduled run.
func ScheduledKind(recs []records.Record, duplicate bool) Kind {
	switch {
	case duplicate:
		return KindNoChange
	case len(recs) == 0:
		return KindNoUpdate
	default:
		return KindUpdate
	}
}

// ManualKind picks the template for an operator-triggered extraction.
func ManualKind(recs []records.Record, duplicate bool) Kind {
	switch {
	case duplicate:
		return KindRepeated
	case len(recs) == 0:
		return KindNoUpdate
	default:
		return KindUpdate
	}
}

// Message is one rendered notification.
type Message struct {
	Recipient string           `json:"recipient"`
	Kind      Kind             `json:"kind"`
	Subject   string           `json:"subject"`
	HTML      string           `json:"html"`
	Records   []records.Record `json:"records"`
	CreatedAt time.Time        `json:"created_at"`
}

var subjects = map[Kind]string{
	KindUpdate:   "pagewatch: update found (%d items)",
	KindNoUpdate: "pagewatch: no update today",
	KindNoChange: "pagewatch: no update today (content unchanged)",
	KindRepeated: "pagewatch: repeated check, no update",
}

var bodyTmpl = template.Must(template.New("body").Parse(`<html><body>
{{- if eq .Kind "update"}}
<h2>{{len .Records}} new item(s)</h2>
<ul>
{{- range .Records}}
<li><strong>{{or .title "(untitled)"}}</strong>{{with .date}} ({{.}}){{end}}{{with .link}} <a href="{{.}}">{{.}}</a>{{end}}</li>
{{- end}}
</ul>
{{- else if eq .Kind "no_change"}}
<p>The page was checked and its content has not changed since the last check.</p>
{{- else if eq .Kind "repeated"}}
<p>This page was already checked today and the result is the same. Nothing new to report.</p>
{{- else}}
<p>The page was checked and no items were found.</p>
{{- end}}
<p style="color:#888">Checked at {{.CreatedAt.Format "2006-01-02 15:04"}}</p>
</body></html>`))

// Compose renders the message for kind. Records are only carried by
// KindUpdate; other kinds never enumerate items.
func Compose(kind Kind, recipient string, recs []records.Record, now time.Time) (*Message, error) {
	format, ok := subjects[kind]
	if !ok {
		return nil, fmt.Errorf("notify: unknown message kind %q", kind)
	}
	m := &Message{Recipient: recipient, Kind: kind, CreatedAt: now}
	if kind == KindUpdate {
		m.Records = recs
		m.Subject = fmt.Sprintf(format, len(recs))
	} else {
		m.Subject = format
	}

	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, m); err != nil {
		return nil, fmt.Errorf("notify: render %s: %w", kind, err)
	}
	m.HTML = buf.String()
	return m, nil
}
