package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("smtp down")}
	m := Multi{ok, nil, bad}

	err := m.Notify(context.Background(), Event{Kind: KindOrderCreated, OrderCode: "EX-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
}

func TestHTTPRelayPostsMessageWithAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proof.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o600))

	var got relayMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	relay := NewHTTPRelay(srv.URL, "tok", "ops@example.com", time.Second)
	err := relay.Notify(context.Background(), Event{
		Kind:       KindProofUploaded,
		Audience:   AudienceAdmin,
		OrderCode:  "EX-20260101-ABCDEF",
		Status:     domain.StatusPending,
		AmountIDR:  decimal.RequireFromString("150000"),
		Links:      map[string]string{"complete": "https://x/c", "reject": "https://x/r"},
		Attachment: &Attachment{MIME: "image/png", Path: path},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "ops@example.com", got.To)
	assert.Equal(t, "proof_uploaded", got.Template)
	assert.Equal(t, "150000.00", got.AmountIDR)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "proof.png", got.Attachments[0].Filename)
	raw, err := base64.StdEncoding.DecodeString(got.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(raw))
}

func TestHTTPRelaySkipsCustomerWithoutRecipient(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	relay := NewHTTPRelay(srv.URL, "", "ops@example.com", time.Second)
	require.NoError(t, relay.Notify(context.Background(), Event{Kind: KindOrderExpired, Audience: AudienceCustomer}))
	assert.False(t, called)
}

func TestHTTPRelayReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad template", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	relay := NewHTTPRelay(srv.URL, "", "", time.Second)
	err := relay.Notify(context.Background(), Event{Kind: KindOrderCreated, Audience: AudienceCustomer, Recipient: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}
