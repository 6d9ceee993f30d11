package worker

import "encoding/json"

// InitMessage is sent to the worker exactly once, immediately after spawn.
type InitMessage struct {
	LoggerName string          `json:"loggerName"`
	Parameters json.RawMessage `json:"parameters"`
	RequestID  string          `json:"requestId"`
	TargetUUID string          `json:"targetUuid"`
}

// ResultError is the error shape a worker embeds in its result message.
type ResultError struct {
	Message string `json:"message"`
}

// resultError extracts the optional error field from a decoded result
// message. Workers signal failure with {"error": {"message": "..."}}.
func resultError(msg map[string]any) (string, bool) {
	raw, ok := msg["error"]
	if !ok || raw == nil {
		return "", false
	}
	if fields, ok := raw.(map[string]any); ok {
		if text, ok := fields["message"].(string); ok {
			return text, true
		}
	}
	return "worker reported an error without a message", true
}
