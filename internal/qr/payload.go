package qr

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidPayload indicates decoded QR content with no extractable session id.
var ErrInvalidPayload = errors.New("no session id in QR payload")

// Payload is the content encoded into an attendance QR code. Only SessionID
// is required on the scan path; section and expiry ride along so the client
// can show context before calling the server.
type Payload struct {
	SessionID  string `json:"sessionId"`
	Section    string `json:"section,omitempty"`
	ExpiryTime int64  `json:"expiryTime,omitempty"`
}

// Encode renders the payload as the JSON string placed in the QR code.
func Encode(p Payload) (string, error) {
	if p.SessionID == "" {
		return "", ErrInvalidPayload
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse accepts either the JSON object form or a bare string treated
// directly as a session id. Older client builds encoded just the id.
func Parse(data string) (Payload, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return Payload{}, ErrInvalidPayload
	}

	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		// Not JSON, treat the raw string as the session id.
		return Payload{SessionID: trimmed}, nil
	}
	if p.SessionID == "" {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}
