package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/flowbot/backend/internal/metrics"
)

const acceptHeader = "application/json, text/plain, */*"

// Outcome labels reported to metrics.
const (
	OutcomeOK        = "ok"
	OutcomeConfig    = "config_error"
	OutcomeNetwork   = "connectivity_error"
	OutcomeUpstream  = "upstream_error"
	OutcomeNoContent = "no_content"
)

type requestBody struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Client relays chat messages to a workflow webhook.
type Client struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient builds a client. A nil httpClient uses a client without a timeout,
// so a hung upstream is bounded only by the transport.
func NewClient(httpClient *http.Client, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, metrics: m}
}

// Send posts one message and returns the normalized reply text.
func (c *Client) Send(ctx context.Context, url, message, sessionID string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		c.metrics.ObserveWebhook(OutcomeConfig, 0)
		return "", ErrMissingURL
	}

	payload, err := json.Marshal(requestBody{Message: message, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		// unparseable URLs never leave the process, same as an unreachable host
		c.metrics.ObserveWebhook(OutcomeNetwork, 0)
		return "", &ConnectivityError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[webhook] request failed session=%s: %v", sessionID, err)
		c.metrics.ObserveWebhook(OutcomeNetwork, time.Since(start))
		return "", &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[webhook] reading response failed session=%s: %v", sessionID, err)
		c.metrics.ObserveWebhook(OutcomeNetwork, time.Since(start))
		return "", &ConnectivityError{Err: err}
	}
	body := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := body
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		c.metrics.ObserveWebhook(OutcomeUpstream, time.Since(start))
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: detail}
	}

	if strings.TrimSpace(body) == "" {
		c.metrics.ObserveWebhook(OutcomeNoContent, time.Since(start))
		return NoContentReply, nil
	}

	c.metrics.ObserveWebhook(OutcomeOK, time.Since(start))
	return Extract(body), nil
}
