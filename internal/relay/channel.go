// Package relay implements the background relay: a registry of UI channels
// keyed by tab id, a single-owner broker that forwards content messages to
// them, and the WebSocket transport that feeds the broker.
package relay

import "errors"

var (
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("relay: channel closed")
	// ErrSendQueueFull is returned when a channel cannot accept more frames.
	ErrSendQueueFull = errors.New("relay: send queue full")
	// ErrNoContent is returned when no content channel is attached for a tab.
	ErrNoContent = errors.New("relay: no content channel for tab")
	// ErrLoopStopped is returned when posting to a stopped loop.
	ErrLoopStopped = errors.New("relay: loop stopped")
)

// Channel is one open message port. Send must not block; implementations
// queue the frame or fail.
type Channel interface {
	ID() string
	Name() string
	Send(msg []byte) error
	Close() error
}
