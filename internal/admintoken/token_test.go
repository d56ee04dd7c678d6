package admintoken

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "admin-action-secret-0123456789abcdef"

func TestIssueVerify(t *testing.T) {
	s := NewSigner(testSecret, time.Hour, "https://exchange.example.com")
	tok, err := s.Issue("EX-20260101-ABCDEF", ActionComplete)
	require.NoError(t, err)

	claims, err := s.Verify(tok, "EX-20260101-ABCDEF", ActionComplete)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.JTI())
	assert.Equal(t, ActionComplete, claims.Action)

	_, err = s.Verify(tok, "EX-20260101-ABCDEF", ActionReject)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Verify(tok, "EX-OTHER", ActionComplete)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Verify("", "EX-20260101-ABCDEF", ActionComplete)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	s := NewSigner(testSecret, time.Hour, "")
	issuedAt := time.Now()
	s.now = func() time.Time { return issuedAt }
	tok, err := s.Issue("EX-1", ActionReject)
	require.NoError(t, err)

	s.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = s.Verify(tok, "EX-1", ActionReject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewSigner("a-completely-different-secret-value-000", time.Hour, "")
	tok, err = other.Issue("EX-1", ActionReject)
	require.NoError(t, err)
	_, err = NewSigner(testSecret, time.Hour, "").Verify(tok, "EX-1", ActionReject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsUnknownAction(t *testing.T) {
	_, err := NewSigner(testSecret, time.Hour, "").Issue("EX-1", "delete")
	assert.Error(t, err)
}

func TestLinks(t *testing.T) {
	s := NewSigner(testSecret, time.Hour, "https://exchange.example.com/")
	links, err := s.Links("EX-9")
	require.NoError(t, err)
	require.Len(t, links, 2)

	for _, action := range []string{ActionComplete, ActionReject} {
		u, err := url.Parse(links[action])
		require.NoError(t, err)
		assert.Equal(t, "/admin/orders/EX-9/"+action, u.Path)
		assert.True(t, strings.HasPrefix(links[action], "https://exchange.example.com/admin/"))
		_, err = s.Verify(u.Query().Get("token"), "EX-9", action)
		assert.NoError(t, err)
	}
}
