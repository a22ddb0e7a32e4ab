package notify

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is an opaque handle to one live client session. Send must not block:
// it attempts a bounded delivery and reports whether the message was
// accepted. Implementations are expected to tolerate Send after close.
type Conn interface {
	Send(message []byte) bool
	Close()
}

// Notification is the frame pushed to clients
type Notification struct {
	Message string `json:"message"`
}

// Dispatcher fans an event out to every live connection registered under a
// user identity. The fan-out key is the user, not the order: a user may have
// several simultaneous sessions and all of them should see order updates.
// Delivery is at-most-once and best-effort; nothing is queued for later.
type Dispatcher struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]map[Conn]struct{}
	logger *zap.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		conns:  make(map[uuid.UUID]map[Conn]struct{}),
		logger: logger,
	}
}

// Subscribe registers conn under userID. Registering the same handle twice
// is a no-op.
func (d *Dispatcher) Subscribe(userID uuid.UUID, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		d.conns[userID] = set
	}
	set[conn] = struct{}{}
}

// Unsubscribe removes conn from userID's set. It is safe to call for a
// handle that was never registered or was already removed.
func (d *Dispatcher) Unsubscribe(userID uuid.UUID, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.conns[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(d.conns, userID)
	}
}

// Publish delivers message to every connection registered under userID.
// With no registered connections it is a silent no-op. A connection whose
// outbound buffer is full has the message dropped rather than stalling
// delivery to the others.
func (d *Dispatcher) Publish(userID uuid.UUID, message string) {
	frame, err := json.Marshal(Notification{Message: message})
	if err != nil {
		d.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for conn := range d.conns[userID] {
		if !conn.Send(frame) {
			d.logger.Warn("Dropped notification for slow connection",
				zap.String("user_id", userID.String()),
			)
		}
	}
}

// ConnectionCount returns the number of live connections for userID
func (d *Dispatcher) ConnectionCount(userID uuid.UUID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns[userID])
}

// CloseAll closes every registered connection and empties the registry.
// Used on server shutdown.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	conns := d.conns
	d.conns = make(map[uuid.UUID]map[Conn]struct{})
	d.mu.Unlock()

	for _, set := range conns {
		for conn := range set {
			conn.Close()
		}
	}
}
