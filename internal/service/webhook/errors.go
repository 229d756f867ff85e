package webhook

import (
	"errors"
	"fmt"
)

// ErrMissingURL is returned before any request when no webhook URL is configured.
var ErrMissingURL = errors.New("Webhook URL is not configured. Please set it in the settings panel.")

// ConnectivityError reports that the webhook could not be reached at all.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return "Could not connect to the webhook. This is likely a CORS or network issue. " +
		"Ensure the workflow instance accepts requests from this origin and check your connection."
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a non-2xx answer from the webhook.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Webhook error (%d): %s", e.StatusCode, e.Body)
}
