package analysis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SubmissionErrorKind classifies why an upload was rejected.
type SubmissionErrorKind string

const (
	SubmissionNotFound  SubmissionErrorKind = "not_found"
	SubmissionServer    SubmissionErrorKind = "server"
	SubmissionNetwork   SubmissionErrorKind = "network"
	SubmissionResponse  SubmissionErrorKind = "response"
	SubmissionMalformed SubmissionErrorKind = "malformed"
)

const (
	msgNotFound  = "API endpoint not found. Please check your server configuration."
	msgServer    = "Server error occurred. Please try again later."
	msgNetwork   = "Cannot connect to server. Please check your connection and server status."
	msgHTML      = "Server returned an error. Please check your API endpoint."
	msgFallback  = "Something went wrong while sending files."
	msgMalformed = "Server response did not include a job."
)

// SubmissionError is a user-facing upload failure.
type SubmissionError struct {
	Kind       SubmissionErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func networkError(err error) *SubmissionError {
	return &SubmissionError{Kind: SubmissionNetwork, Message: msgNetwork, Err: err}
}

func malformedError(status int, err error) *SubmissionError {
	return &SubmissionError{Kind: SubmissionMalformed, StatusCode: status, Message: msgMalformed, Err: err}
}

// classifyResponse maps a non-2xx upload response to a SubmissionError.
func classifyResponse(status int, body []byte) *SubmissionError {
	switch {
	case status == http.StatusNotFound:
		return &SubmissionError{Kind: SubmissionNotFound, StatusCode: status, Message: msgNotFound}
	case status >= http.StatusInternalServerError:
		return &SubmissionError{Kind: SubmissionServer, StatusCode: status, Message: msgServer}
	}

	return &SubmissionError{
		Kind:       SubmissionResponse,
		StatusCode: status,
		Message:    responseMessage(body),
		Err:        fmt.Errorf("upload rejected with status %d", status),
	}
}

func responseMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return msgFallback
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		switch v := decoded.(type) {
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
			return msgFallback
		case string:
			if v != "" {
				return v
			}
			return msgFallback
		default:
			return msgFallback
		}
	}

	if strings.Contains(strings.ToLower(text), "<html") {
		return msgHTML
	}
	return text
}
