package wire

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaydb/wire/backend"
	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

// connStatus is the connection state machine.
type connStatus int32

const (
	statusNew connStatus = iota
	statusHandshake
	statusAuth
	statusReady
	statusInTx
	statusInTxError
	statusDumping
	statusRestoring
	statusClosing
	statusBad
)

// Connection holds per-client state for one accepted socket, from the
// handshake through termination. It is owned by exactly one goroutine at
// a time: the cooperative single-threaded-per-connection model means one
// goroutine runs conn.serve for its lifetime, not shared mutable state
// across goroutines.
type Connection struct {
	ID      uuid.UUID
	Transport net.Conn
	Reader  *frame.Reader
	Writer  *frame.Writer
	Version protocol.Version

	status       atomic.Int32
	authenticated atomic.Bool
	cancelled    atomic.Bool
	stopRequested atomic.Bool

	idleMu    sync.Mutex
	lastIdleAt time.Time

	View session.View

	// backendMu guards pin/release of the currently leased backend
	// connection, implementing a pin discipline where reentrant get
	// calls are forbidden.
	backendMu sync.Mutex
	backend   backend.Conn

	lastAnon lastAnonCache

	// lastStateID/lastStateData record the state descriptor most recently
	// advertised to the client, so Execute can detect a changed descriptor
	// and emit a fresh StateDataDescription before CommandComplete.
	lastStateID   uuid.UUID
	lastStateData []byte
}

// noteAdvertisedState records a state descriptor just written to the
// client.
func (c *Connection) noteAdvertisedState(typeID uuid.UUID, data []byte) {
	c.lastStateID = typeID
	c.lastStateData = append([]byte(nil), data...)
}

// stateAdvertised reports whether typeID/data match the descriptor most
// recently advertised to the client.
func (c *Connection) stateAdvertised(typeID uuid.UUID, data []byte) bool {
	return c.lastStateID == typeID && bytes.Equal(c.lastStateData, data)
}

// newConnection constructs a Connection for a freshly accepted socket.
func newConnection(transport net.Conn, reader *frame.Reader, writer *frame.Writer) *Connection {
	conn := &Connection{
		ID:        uuid.New(),
		Transport: transport,
		Reader:    reader,
		Writer:    writer,
	}
	conn.status.Store(int32(statusNew))
	return conn
}

func (c *Connection) setStatus(s connStatus) {
	c.status.Store(int32(s))
}

func (c *Connection) getStatus() connStatus {
	return connStatus(c.status.Load())
}

// markIdle records the idle timestamp taken at every wait-for-message
// suspension point. Dump and restore disable this classification by
// never calling markIdle while active.
func (c *Connection) markIdle() {
	c.idleMu.Lock()
	c.lastIdleAt = time.Now()
	c.idleMu.Unlock()
}

// idleSince returns how long the connection has been idle.
func (c *Connection) idleSince() time.Duration {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.lastIdleAt.IsZero() {
		return 0
	}
	return time.Since(c.lastIdleAt)
}

// pinBackend leases a backend connection for the duration of a
// transaction or in-flight request. Calling pinBackend while already
// pinned is a programmer error (the reentrant-get trap).
func (c *Connection) pinBackend(conn backend.Conn) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()
	if c.backend != nil {
		panic("wire: reentrant backend pin")
	}
	c.backend = conn
}

func (c *Connection) unpinBackend() backend.Conn {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()
	conn := c.backend
	c.backend = nil
	return conn
}

func (c *Connection) pinnedBackend() backend.Conn {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()
	return c.backend
}

// requestCancel implements the cancellation semantics: it never
// cancels the in-flight task directly, it only flips a flag the task
// observes at its next suspension point, and best-effort cancels a
// pinned backend connection out of band before marking it for discard.
func (c *Connection) requestCancel() {
	c.cancelled.Store(true)

	pinned := c.pinnedBackend()
	if pinned == nil {
		return
	}

	go func() {
		_ = pinned.Cancel(context.Background())
		pinned.Discard()
	}()
}

// lastAnonCache tracks the most recently compiled anonymous statement, so
// an immediately following Execute can skip recompilation.
type lastAnonCache struct {
	mu      sync.Mutex
	hash    string
	inType  uuid.UUID
	outType uuid.UUID
	group   compiler.QueryUnitGroup
	valid   bool
}

func (c *lastAnonCache) set(hash string, inType, outType uuid.UUID, group compiler.QueryUnitGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hash, c.inType, c.outType, c.group, c.valid = hash, inType, outType, group, true
}

func (c *lastAnonCache) get(hash string, inType, outType uuid.UUID) (compiler.QueryUnitGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.hash != hash || c.inType != inType || c.outType != outType {
		return compiler.QueryUnitGroup{}, false
	}
	return c.group, true
}
