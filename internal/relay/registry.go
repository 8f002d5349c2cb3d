// Package relay holds the per-connection mailboxes that carry job status
// from running workers to live monitoring clients.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// Channel is an unbounded mailbox owned by one monitoring connection.
// Publishing never blocks, so a stalled client cannot hold up a worker.
type Channel struct {
	id     string
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
	closed bool
}

func newChannel(id string) *Channel {
	return &Channel{id: id, notify: make(chan struct{}, 1)}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) push(m Message) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, m)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Channel) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest pending message, waiting up to poll between checks
// until ctx is done or the channel is closed
func (c *Channel) Next(ctx context.Context, poll time.Duration) (Message, error) {
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue[0] = Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return m, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Message{}, interfaces.ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.notify:
		case <-timer.C:
			timer.Reset(poll)
		}
	}
}

// pending returns the number of queued messages
func (c *Channel) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Registry maps channel ids to open channels.
// It implements interfaces.ProgressSink for in-process workers.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	logger   arbor.ILogger
}

var _ interfaces.ProgressSink = (*Registry)(nil)

func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		logger:   logger,
	}
}

// Open creates a channel with a fresh server-issued id
func (r *Registry) Open() *Channel {
	ch := newChannel(common.NewChannelID())

	r.mu.Lock()
	r.channels[ch.id] = ch
	count := len(r.channels)
	r.mu.Unlock()

	r.logger.Debug().Str("channel_id", ch.id).Int("open_channels", count).Msg("Monitor channel opened")
	return ch
}

// Close removes the channel; pending messages are dropped
func (r *Registry) Close(id string) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	delete(r.channels, id)
	r.mu.Unlock()

	if ok {
		dropped := ch.pending()
		ch.close()
		r.logger.Debug().Str("channel_id", id).Int("dropped", dropped).Msg("Monitor channel closed")
	}
}

// Publish queues m on channel id
func (r *Registry) Publish(id string, m Message) error {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()

	if !ok || !ch.push(m) {
		return interfaces.ErrChannelNotFound
	}
	return nil
}

// Send forwards a job status update to the job's monitoring channel, if any.
// Updates for channels that are gone are dropped.
func (r *Registry) Send(update models.StatusUpdate) error {
	if update.ChannelID == "" {
		return nil
	}
	if err := r.Publish(update.ChannelID, StatusMessage(update)); err != nil {
		r.logger.Debug().
			Str("channel_id", update.ChannelID).
			Str("request_id", update.RequestID).
			Msg("Monitor channel gone, dropping status update")
	}
	return nil
}

// Len returns the number of open channels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
