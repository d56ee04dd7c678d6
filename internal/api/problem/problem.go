package problem

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.saldo-exchange.dev/"

	// TraceHeader carries the request trace id in both directions.
	TraceHeader = "X-Trace-ID"
)

// Details is an RFC 7807 body. OrderCode and RetryAfter are extension members.
type Details struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RequestID  string `json:"request_id"`
	OrderCode  string `json:"order_code,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Option decorates a problem before it is written.
type Option func(w http.ResponseWriter, d *Details)

// WithOrder names the order the failure concerns.
func WithOrder(code string) Option {
	return func(_ http.ResponseWriter, d *Details) {
		d.OrderCode = code
	}
}

// WithRetryAfter sets the Retry-After header and mirrors it in the body.
// Sub-second waits round up to one second.
func WithRetryAfter(wait time.Duration) Option {
	return func(w http.ResponseWriter, d *Details) {
		secs := int((wait + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		d.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends an RFC 7807 response.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, opts ...Option) {
	d := Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if d.Title == "" {
		d.Title = http.StatusText(status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(TraceHeader)
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(TraceHeader)
	}
	for _, opt := range opts {
		opt(w, &d)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
