package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// providerMessage is one chat message in the provider request payload.
type providerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// providerRequest is the streaming chat-completions request body.
type providerRequest struct {
	Model    string            `json:"model"`
	Messages []providerMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

// ProviderClient issues streaming chat requests to the model provider. Each
// call is stateless: only the single user message of the current turn is
// sent, never prior conversation history.
type ProviderClient struct {
	url    string
	apiKey string
	model  string

	// No client-level timeout: the response body is a long-lived stream.
	// Deadlines come from the request context.
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewProviderClient builds a client from the loaded configuration.
func NewProviderClient(config *Config, logger *logrus.Logger) *ProviderClient {
	return &ProviderClient{
		url:        config.ProviderURL,
		apiKey:     config.ProviderAPIKey,
		model:      config.ProviderModel,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// StreamChat opens a streaming completion request for one user message and
// returns the raw response body for the delta parser to consume. The caller
// must close the body, including when abandoning the stream early.
func (p *ProviderClient) StreamChat(ctx context.Context, userMessage string) (io.ReadCloser, error) {
	payload, err := json.Marshal(providerRequest{
		Model:    p.model,
		Messages: []providerMessage{{Role: "user", Content: userMessage}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		p.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("Provider returned non-success status")
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}
