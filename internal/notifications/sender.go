package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SenderConfig configures the messaging API client.
type SenderConfig struct {
	BaseURL   string
	APIKey    string
	SenderKey string
	Timeout   time.Duration
}

// HTTPSender delivers messages to the messaging provider's REST API.
type HTTPSender struct {
	cfg  SenderConfig
	http *http.Client
}

// NewHTTPSender creates a sender. A zero timeout defaults to 10s.
func NewHTTPSender(cfg SenderConfig) *HTTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPSender{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type sendRequest struct {
	SenderKey    string            `json:"senderKey"`
	To           string            `json:"to"`
	TemplateCode string            `json:"templateCode"`
	Variables    map[string]string `json:"variables,omitempty"`
	Buttons      []Button          `json:"buttons,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Deliver posts one message and returns the provider's message id.
func (s *HTTPSender) Deliver(ctx context.Context, msg Message) (string, error) {
	if s.cfg.BaseURL == "" {
		return "", fmt.Errorf("messaging base url not configured")
	}
	body, err := json.Marshal(sendRequest{
		SenderKey:    s.cfg.SenderKey,
		To:           msg.Recipient,
		TemplateCode: msg.TemplateID,
		Variables:    msg.Variables,
		Buttons:      msg.Buttons,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out sendResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("messaging api status %d: %s", resp.StatusCode, out.Error)
	}
	return out.MessageID, nil
}
