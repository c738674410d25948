package web

import "time"

// LogEvent is one guest log line pushed to websocket subscribers.
type LogEvent struct {
	Time     time.Time `json:"time"`
	Provider string    `json:"provider"`
	Message  string    `json:"message"`
}

// errorResponse is the JSON body for every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}

// sessionResponse is returned when a session is created or inspected.
type sessionResponse struct {
	SessionID string   `json:"session_id"`
	Providers []string `json:"providers"`
}

type visibilityRequest struct {
	Provider string `json:"provider"`
	Visible  bool   `json:"visible"`
}

type callRequest struct {
	SessionID string                 `json:"session_id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type createProviderRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type providerInfo struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Loaded    bool      `json:"loaded"`
	CodeHash  string    `json:"code_hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

type skillRequest struct {
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

type skillInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
