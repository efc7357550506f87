package server

import (
	"encoding/json"
	"strings"
)

// envelope is the inbound wire format: {"event": name, "data": {...}}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// inboundEvent is a decoded client event handed from a read pump to the hub.
type inboundEvent struct {
	client  *Client
	name    string
	data    json.RawMessage
	limited bool // dropped by the rate limiter; hub only reports it
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
