package twitter

import (
	"fmt"
	"net/http"
	"strings"

	"tools.zach/dev/mentionbot/internal/types"
)

// ErrorItem is one entry of a platform error response.
type ErrorItem struct {
	Message      string `json:"message,omitempty"`
	Code         int    `json:"code,omitempty"`
	Title        string `json:"title,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Type         string `json:"type,omitempty"`
	Value        string `json:"value,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
}

// APIError is a non-success response from the platform.
type APIError struct {
	StatusCode int         `json:"status"`
	Title      string      `json:"title,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Type       string      `json:"type,omitempty"`
	Errors     []ErrorItem `json:"errors,omitempty"`
	// Body is the raw response body when it could not be decoded.
	Body string `json:"body,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Title
	if e.Detail != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Detail
	}
	if msg == "" && len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, item := range e.Errors {
			switch {
			case item.Message != "":
				parts = append(parts, item.Message)
			case item.Detail != "":
				parts = append(parts, item.Detail)
			case item.Title != "":
				parts = append(parts, item.Title)
			}
		}
		msg = strings.Join(parts, "; ")
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("twitter api %d: %s", e.StatusCode, msg)
}

// Details returns the structured error payload for logging.
func (e *APIError) Details() any { return e }

// classify wraps err with the signal implied by status.
func classify(status int, err error) error {
	switch status {
	case http.StatusTooManyRequests:
		return types.NewSignalError(types.ServiceTwitter, types.SignalRateLimited, err)
	case http.StatusUnauthorized:
		return types.NewSignalError(types.ServiceTwitter, types.SignalAuthExpired, err)
	default:
		return err
	}
}
