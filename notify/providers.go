package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmailSender sends a template-based transactional email.
type EmailSender interface {
	SendTemplate(ctx context.Context, to, template string, data map[string]string) error
}

// SMSSender sends a text message from the platform's sender number.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// EmailAPI calls the transactional-email provider over HTTP.
type EmailAPI struct {
	BaseURL string
	APIKey  string
	From    string
	Client  *http.Client
}

// NewEmailAPI builds the production email provider.
func NewEmailAPI(baseURL, apiKey, from string) *EmailAPI {
	return &EmailAPI{
		BaseURL: baseURL,
		APIKey:  apiKey,
		From:    from,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendTemplate posts the template send request to the provider.
func (e *EmailAPI) SendTemplate(ctx context.Context, to, template string, data map[string]string) error {
	payload := map[string]any{
		"from":     e.From,
		"to":       to,
		"template": template,
		"data":     data,
	}
	return postJSON(ctx, e.Client, e.BaseURL+"/v1/email/send", e.APIKey, payload)
}

// SMSAPI calls the SMS provider over HTTP.
type SMSAPI struct {
	BaseURL string
	APIKey  string
	Sender  string
	Client  *http.Client
}

// NewSMSAPI builds the production SMS provider.
func NewSMSAPI(baseURL, apiKey, sender string) *SMSAPI {
	return &SMSAPI{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Sender:  sender,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendSMS posts the text message to the provider.
func (s *SMSAPI) SendSMS(ctx context.Context, phone, message string) error {
	payload := map[string]any{
		"from": s.Sender,
		"to":   phone,
		"text": message,
	}
	return postJSON(ctx, s.Client, s.BaseURL+"/v1/sms/send", s.APIKey, payload)
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: provider call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: provider returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// SimulatedEmail is the local/dev fallback used when no provider
// credentials are configured. It sleeps briefly and reports success.
type SimulatedEmail struct {
	Delay time.Duration
}

func (s SimulatedEmail) SendTemplate(ctx context.Context, _, _ string, _ map[string]string) error {
	return simulate(ctx, s.Delay)
}

// SimulatedSMS is the SMS counterpart of SimulatedEmail.
type SimulatedSMS struct {
	Delay time.Duration
}

func (s SimulatedSMS) SendSMS(ctx context.Context, _, _ string) error {
	return simulate(ctx, s.Delay)
}

func simulate(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
