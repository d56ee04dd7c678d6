package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type relayAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

type relayMessage struct {
	Template    string            `json:"template"`
	Audience    string            `json:"audience"`
	To          string            `json:"to"`
	OrderCode   string            `json:"order_code"`
	Status      string            `json:"status,omitempty"`
	PrevStatus  string            `json:"prev_status,omitempty"`
	AmountIDR   string            `json:"amount_idr,omitempty"`
	Note        string            `json:"note,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
	Attachments []relayAttachment `json:"attachments,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// HTTPRelay posts events as JSON to an email relay. Admin events go to adminEmail;
// customer events without a recipient are skipped.
type HTTPRelay struct {
	url        string
	token      string
	adminEmail string
	client     *http.Client
}

func NewHTTPRelay(url, token, adminEmail string, timeout time.Duration) *HTTPRelay {
	return &HTTPRelay{
		url:        url,
		token:      token,
		adminEmail: adminEmail,
		client:     &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRelay) Notify(ctx context.Context, ev Event) error {
	to := ev.Recipient
	if ev.Audience == AudienceAdmin {
		to = r.adminEmail
	}
	if to == "" {
		return nil
	}

	msg := relayMessage{
		Template:   string(ev.Kind),
		Audience:   string(ev.Audience),
		To:         to,
		OrderCode:  ev.OrderCode,
		Status:     ev.Status.String(),
		PrevStatus: ev.PrevStatus.String(),
		Note:       ev.Note,
		Links:      ev.Links,
		OccurredAt: ev.OccurredAt,
	}
	if !ev.AmountIDR.IsZero() {
		msg.AmountIDR = ev.AmountIDR.StringFixed(2)
	}
	if ev.Attachment != nil {
		content, err := os.ReadFile(ev.Attachment.Path)
		if err != nil {
			return fmt.Errorf("read attachment: %w", err)
		}
		name := ev.Attachment.Name
		if name == "" {
			name = filepath.Base(ev.Attachment.Path)
		}
		msg.Attachments = append(msg.Attachments, relayAttachment{
			Filename:    name,
			ContentType: ev.Attachment.MIME,
			Content:     base64.StdEncoding.EncodeToString(content),
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", ev.Kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay %s: status %d: %s", ev.Kind, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
