package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the capacity of a service's inbound queue.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long a push waits on a full queue.
	DefaultChannelTimeout = 1 * time.Second
)

// inbox is the inbound queue shared by the transports. Once closed, pushes
// are dropped and the channel reads as drained.
type inbox struct {
	name   string
	ch     chan models.Response
	mu     sync.RWMutex
	closed bool
}

func newInbox(name string) *inbox {
	return &inbox{name: name, ch: make(chan models.Response, DefaultChannelBufferSize)}
}

func (b *inbox) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// close reports whether this call did the closing.
func (b *inbox) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	close(b.ch)
	return true
}

// push holds the read lock for the whole send so close cannot race it.
func (b *inbox) push(r models.Response) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn(b.name+" inbound dropped after stop", "from", r.From)
		return false
	}
	timer := time.NewTimer(DefaultChannelTimeout)
	defer timer.Stop()
	select {
	case b.ch <- r:
		slog.Debug(b.name+" inbound queued", "from", r.From, "id", r.ID)
		return true
	case <-timer.C:
		slog.Warn(b.name+" inbound queue full, dropping", "from", r.From, "waited", DefaultChannelTimeout)
		return false
	}
}
