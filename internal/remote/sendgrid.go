package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const sendgridMailEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridTransport issues one batched v3 mail/send call per
// invocation. Unauthorized responses map to ErrCredentialExpired so
// the executor can refresh and retry; everything else is a plain
// transport error.
type SendGridTransport struct {
	Endpoint  string
	Client    *http.Client
	FromEmail string
	FromName  string
	Limiter   *rate.Limiter
}

func NewSendGridTransport(fromEmail, fromName string, ratePerSec int) *SendGridTransport {
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &SendGridTransport{
		Endpoint:  sendgridMailEndpoint,
		Client:    &http.Client{Timeout: 30 * time.Second},
		FromEmail: fromEmail,
		FromName:  fromName,
		Limiter:   lim,
	}
}

func (t *SendGridTransport) Send(ctx context.Context, token string, recipients []string, subject, html string) error {
	if len(recipients) == 0 {
		return nil
	}
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	// One personalization per recipient keeps the recipient list out
	// of everyone else's headers while staying a single API call.
	pers := make([]sgPersonalization, 0, len(recipients))
	for _, r := range recipients {
		pers = append(pers, sgPersonalization{To: []sgAddress{{Email: r}}})
	}
	payload := sgMailPayload{
		Personalizations: pers,
		From:             sgAddress{Email: t.FromEmail, Name: t.FromName},
		Subject:          subject,
		Content:          []sgContent{{Type: "text/html", Value: html}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = sendgridMailEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrCredentialExpired)
	case resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// RetryingSender composes the executor and the transport into the
// mailer's Sender boundary.
type RetryingSender struct {
	Exec      *Executor
	Transport *SendGridTransport
}

func (s *RetryingSender) Send(ctx context.Context, recipients []string, subject, html string) error {
	return s.Exec.Do(ctx, func(ctx context.Context, token string) error {
		return s.Transport.Send(ctx, token, recipients, subject, html)
	})
}

// StaticCredentials is the host's provider for API-key transports: the
// key never rotates, so Refresh re-validates nothing and hands the
// same key back.
type StaticCredentials struct {
	APIKey string
}

func (c *StaticCredentials) Token() string { return c.APIKey }

func (c *StaticCredentials) Refresh(ctx context.Context) (string, error) {
	return c.APIKey, nil
}

// SendGrid v3 Mail Send API payload types.
type sgMailPayload struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}
