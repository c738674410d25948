package web

import (
	"time"

	"github.com/codefionn/werkzeug/internal/logger"
)

// HubLogSink forwards guest log lines to the process logger and to websocket
// subscribers. It satisfies the sandbox log sink contract.
type HubLogSink struct {
	hub *Hub
}

// NewHubLogSink creates a sink feeding the given hub.
func NewHubLogSink(hub *Hub) *HubLogSink {
	return &HubLogSink{hub: hub}
}

// GuestLog records one fire-and-forget guest log line.
func (s *HubLogSink) GuestLog(provider, message string) {
	logger.Info("[guest:%s] %s", provider, message)
	s.hub.Broadcast(&LogEvent{
		Time:     time.Now(),
		Provider: provider,
		Message:  message,
	})
}
