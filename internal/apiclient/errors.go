package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is the cause attached to transport errors for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" {
		msg = "http error"
	}
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("http error: status=%d code=%s message=%s", e.StatusCode, strings.TrimSpace(e.Code), msg)
	}
	return fmt.Sprintf("http error: status=%d message=%s", e.StatusCode, msg)
}

// parseHTTPError accepts {"error":{"code","message"}}, {"error":"msg"} and
// {"message":"msg"} bodies, falling back to the raw body.
func parseHTTPError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))
	herr := &HTTPError{StatusCode: status, Body: body}

	var nested struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Error.Message) != "" {
		herr.Message = strings.TrimSpace(nested.Error.Message)
		herr.Code = strings.TrimSpace(nested.Error.Code)
		return herr
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		if m := strings.TrimSpace(flat.Message); m != "" {
			herr.Message = m
		} else {
			herr.Message = strings.TrimSpace(flat.Error)
		}
	}
	return herr
}
