package wire

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/myaut/tsload/internal/flow"
)

// State is a connection's position in the NEW -> CONNECTED -> ESTABLISHED
// -> DISCONNECTED lifecycle. DISCONNECTED is terminal.
type State int

const (
	StateNew State = iota
	StateConnected
	StateEstablished
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnected:
		return "CONNECTED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// AuthLevel orders a connection's authentication strength. NONE and
// MASTER form a real hierarchy (MASTER outranks NONE); ADMIN, OPERATOR
// and USER are role tiers assigned after authUser, not further steps up
// from MASTER — the broker's ACL check only ever special-cases MASTER
// and ADMIN to bypass the rule set entirely.
type AuthLevel int

const (
	AuthNone AuthLevel = iota
	AuthMaster
	AuthAdmin
	AuthOperator
	AuthUser
)

// Conn is one peer's broker-side bookkeeping: its place in the state
// machine, its assigned agent identity, its per-connection ACL and its
// outbound message id counter. A Conn either wraps a real socket
// (NewConn) or is the synthetic endpoint of an in-process local agent
// (NewLocalConn), in which case Send hands frames to the local delivery
// hook instead of a writer.
type Conn struct {
	mu sync.Mutex

	netConn net.Conn
	reader  *FrameReader
	writer  *FrameWriter

	// deliver, when set, replaces the socket write path: frames sent to
	// this connection are handed to this hook (the broker uses it to
	// resolve the local agent's own pending calls).
	deliver func(m Message) error

	state State

	agentID   int64
	agentType string
	agentUUID string
	endpoint  string

	authLevel AuthLevel
	acl       flow.RuleSet

	nextMsgID int64

	closed chan struct{}
}

// NewConn wraps an accepted net.Conn as a fresh, unauthenticated
// connection record in state NEW.
func NewConn(nc net.Conn, maxFrameBytes int) *Conn {
	endpoint := ""
	if nc != nil {
		endpoint = nc.RemoteAddr().String()
	}
	return &Conn{
		netConn:  nc,
		reader:   NewFrameReader(nc, maxFrameBytes),
		writer:   NewFrameWriter(nc),
		state:    StateNew,
		endpoint: endpoint,
		closed:   make(chan struct{}),
	}
}

// NewLocalConn builds the synthetic connection record of an in-process
// agent: no socket, ESTABLISHED from the start, MASTER-authenticated for
// its whole lifetime, with deliver called in place of a socket write.
func NewLocalConn(agentID int64, agentType, agentUUID string, deliver func(m Message) error) *Conn {
	return &Conn{
		deliver:   deliver,
		state:     StateEstablished,
		agentID:   agentID,
		agentType: agentType,
		agentUUID: agentUUID,
		endpoint:  "local",
		authLevel: AuthMaster,
		closed:    make(chan struct{}),
	}
}

// Local reports whether this is the synthetic connection of an
// in-process agent.
func (c *Conn) Local() bool {
	return c.deliver != nil
}

// Endpoint is the peer's address string, or "local" for an in-process
// agent.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions the connection's state. It does not validate the
// transition graph beyond keeping DISCONNECTED terminal: once that state
// is set, SetState is a no-op and Send refuses to write.
func (c *Conn) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.state = s
}

// AgentID returns the broker-assigned identity of this connection. Zero
// until the broker assigns one at CONNECTED.
func (c *Conn) AgentID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

func (c *Conn) SetAgentID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID = id
}

func (c *Conn) AgentInfo() (agentType, agentUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentType, c.agentUUID
}

// SetAgentInfo records the client-declared type and uuid an agent
// announced in its hello call.
func (c *Conn) SetAgentInfo(agentType, agentUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentType = agentType
	c.agentUUID = agentUUID
}

func (c *Conn) AuthLevel() AuthLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authLevel
}

func (c *Conn) SetAuthLevel(level AuthLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authLevel = level
}

// ACL returns a copy of the connection's access rule set.
func (c *Conn) ACL() flow.RuleSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(flow.RuleSet, len(c.acl))
	copy(out, c.acl)
	return out
}

// GrantACL appends rules to the connection's access rule set, e.g. after
// authUser succeeds and a role-scoped rule set is attached.
func (c *Conn) GrantACL(rules ...flow.AccessRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acl = append(c.acl, rules...)
}

// NextMsgID allocates the next outbound message id this connection owns.
// Message ids are 1-based, never reused, and owned by the sender; the
// broker rewrites ids when it forwards a command to another connection.
func (c *Conn) NextMsgID() int64 {
	return atomic.AddInt64(&c.nextMsgID, 1)
}

// ReadFrame reads one raw frame off the wire. Returns io.ErrUnexpectedEOF
// on a trailing, undelimited partial frame and io.EOF on a clean close.
func (c *Conn) ReadFrame() ([]byte, error) {
	return c.reader.ReadFrame()
}

// Send writes a Message as one frame, or hands it to the local delivery
// hook for an in-process agent. Sending is legal only in CONNECTED or
// ESTABLISHED; anything else fails with a connection-error.
func (c *Conn) Send(m Message) error {
	switch c.State() {
	case StateConnected, StateEstablished:
	default:
		return NewProtocolError(ErrConnectionErr, "connection state is %s", c.State())
	}
	if c.deliver != nil {
		return c.deliver(m)
	}
	payload, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writer.WriteFrame(payload)
}

// Close tears down the underlying socket and marks the connection
// DISCONNECTED. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	alreadyClosed := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	close(c.closed)
	if c.netConn != nil {
		return c.netConn.Close()
	}
	return nil
}

// Closed returns a channel that is closed once Close has run, for
// goroutines that need to select on connection teardown.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}
