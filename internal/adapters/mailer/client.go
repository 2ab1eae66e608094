package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fanpilot/internal/domain"
	"fanpilot/internal/infra/metrics"
)

// Client — HTTP клиент исходящего шлюза сообщений.
// Шлюз провайдер-агностичен: контракт ограничен send(to, subject, body).
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

var _ domain.Mailer = (*Client)(nil)

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// New создаёт клиента шлюза.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Send доставляет сообщение получателю.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("mailer: recipient is empty")
	}
	payload, err := json.Marshal(sendRequest{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("mailer: marshal request: %w", err)
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/api/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("mailer", "send", endpoint.Host, start, err)
	if err != nil {
		metrics.MailerSendErrors.Inc()
		return fmt.Errorf("mailer: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.MailerSendErrors.Inc()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var parsed apiError
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
			return fmt.Errorf("mailer: %s", parsed.Error)
		}
		return fmt.Errorf("mailer: unexpected status %d", resp.StatusCode)
	}
	return nil
}
