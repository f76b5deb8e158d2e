package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// SMSGateway posts messages to an HTTP SMS gateway:
//
//	POST {url}  Authorization: Bearer {token}  {"to": "...", "message": "..."}
//
// 5xx responses and network errors are retried; 4xx responses are not.
type SMSGateway struct {
	url     string
	token   string
	client  *http.Client
	retries uint64
}

// NewSMSGateway creates a gateway client.
func NewSMSGateway(url, token string, timeout time.Duration) *SMSGateway {
	return &SMSGateway{
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		retries: 2,
	}
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (g *SMSGateway) SendSMS(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(smsRequest{To: phone, Message: text})
	if err != nil {
		return err
	}

	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("sms gateway rejected message to %s: %d", MaskPhone(phone), resp.StatusCode))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(send, backoff.WithContext(backoff.WithMaxRetries(eb, g.retries), ctx))
}
