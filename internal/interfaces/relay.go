package interfaces

import "errors"

// ErrChannelNotFound is returned when publishing to a channel that was never
// opened or has been closed
var ErrChannelNotFound = errors.New("channel not found")

// ErrChannelClosed is returned by a channel read after the channel was closed
var ErrChannelClosed = errors.New("channel closed")
