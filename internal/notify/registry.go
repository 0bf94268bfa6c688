package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when a stream's outbound buffer is saturated. The
// broadcaster treats it like any other dead connection and prunes.
var ErrQueueFull = errors.New("stream queue is full")

// ErrStreamClosed is returned when writing to a stream that was already
// unregistered.
var ErrStreamClosed = errors.New("stream is closed")

const defaultQueueSize = 16

// Message is one outbound frame for a notification stream.
type Message struct {
	Data []byte
}

// Connection represents one open notification stream. A user may hold any
// number of connections at once (several browser tabs, several devices).
type Connection struct {
	id        string
	userID    string
	createdAt time.Time

	// mu orders Send against Close: a broadcaster may hold a snapshot of
	// connections while the stream's own handler unregisters it.
	mu     sync.Mutex
	closed bool
	queue  chan *Message
}

// ID returns the unique connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the stream owner.
func (c *Connection) UserID() string { return c.userID }

// CreatedAt returns when the stream was opened.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// EventQueue returns the read side of the outbound buffer.
func (c *Connection) EventQueue() <-chan *Message { return c.queue }

// Send pushes a message without blocking. A full buffer means the reader has
// stalled; the caller decides whether that kills the connection. Sending to a
// closed stream returns ErrStreamClosed instead of panicking.
func (c *Connection) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrStreamClosed
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close terminates the stream. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// Registry tracks open notification streams keyed by user id.
type Registry struct {
	logger    *zap.Logger
	queueSize int

	mu     sync.RWMutex
	byUser map[string]map[string]*Connection
}

// NewRegistry creates a stream registry
func NewRegistry(logger *zap.Logger, queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Registry{
		logger:    logger.Named("notify.registry"),
		queueSize: queueSize,
		byUser:    make(map[string]map[string]*Connection),
	}
}

// Register opens a new stream for the given user.
func (r *Registry) Register(userID string) *Connection {
	conn := &Connection{
		id:        uuid.New().String(),
		userID:    userID,
		createdAt: time.Now(),
		queue:     make(chan *Message, r.queueSize),
	}

	r.mu.Lock()
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*Connection)
		r.byUser[userID] = conns
	}
	conns[conn.id] = conn
	r.mu.Unlock()

	r.logger.Debug("stream registered",
		zap.String("connection_id", conn.id),
		zap.String("user_id", userID))
	return conn
}

// Unregister removes and closes a stream. Unknown connections are a no-op.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	if conns, ok := r.byUser[conn.userID]; ok {
		delete(conns, conn.id)
		if len(conns) == 0 {
			delete(r.byUser, conn.userID)
		}
	}
	r.mu.Unlock()

	conn.Close()
	r.logger.Debug("stream unregistered",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.userID))
}

// ListFor returns the open streams of one user.
func (r *Registry) ListFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// All returns every open stream.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, byID := range r.byUser {
		for _, conn := range byID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Count returns the number of open streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byID := range r.byUser {
		n += len(byID)
	}
	return n
}
