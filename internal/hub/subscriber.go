// internal/hub/subscriber.go
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// outBufferSize bounds the per-subscriber outbound queue. A consumer that
// falls further behind than this starts losing frames and will fail the
// next heartbeat partition.
const outBufferSize = 32

// Transport is the bidirectional text-frame connection a subscriber speaks
// over. Production wraps a websocket connection; tests install in-process
// fakes.
type Transport interface {
	// Send writes one text frame.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next inbound text frame or transport death.
	Receive(ctx context.Context) ([]byte, error)
	// Close terminates the transport with a close code and reason.
	Close(code websocket.StatusCode, reason string) error
}

// Subscriber is one connected peer of a lobby. Outbound frames go through
// the buffered out queue so a single write pump preserves per-subscriber
// event order.
type Subscriber struct {
	UserID string
	Token  string

	transport Transport

	mu          sync.Mutex
	out         chan []byte
	closed      bool
	closeCode   websocket.StatusCode
	closeReason string

	// lastResponse holds the unix nanos of the most recent heartbeat
	// response, seeded with the connect time.
	lastResponse atomic.Int64
}

func newSubscriber(userID, token string, tr Transport, connectedAt time.Time) *Subscriber {
	sub := &Subscriber{
		UserID:    userID,
		Token:     token,
		transport: tr,
		out:       make(chan []byte, outBufferSize),
	}
	sub.lastResponse.Store(connectedAt.UnixNano())
	return sub
}

// enqueue queues one frame without blocking. Frames are dropped when the
// subscriber is closed or its queue is full.
func (sub *Subscriber) enqueue(frame []byte) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.out <- frame:
		return true
	default:
		logrus.WithField("user_id", sub.UserID).Warn("subscriber queue full, dropping frame")
		return false
	}
}

// finish marks the subscriber closed and seals its queue. The write pump
// drains whatever is still buffered and then closes the transport with the
// first recorded code. Safe to call more than once.
func (sub *Subscriber) finish(code websocket.StatusCode, reason string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	sub.closeCode = code
	sub.closeReason = reason
	close(sub.out)
}

func (sub *Subscriber) closeInfo() (websocket.StatusCode, string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		return websocket.StatusNormalClosure, ""
	}
	return sub.closeCode, sub.closeReason
}

func (sub *Subscriber) setLastResponse(t time.Time) {
	sub.lastResponse.Store(t.UnixNano())
}

func (sub *Subscriber) lastResponseAt() time.Time {
	return time.Unix(0, sub.lastResponse.Load())
}
