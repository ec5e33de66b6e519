// Package wire implements the framed JSON wire protocol shared by every
// peer on the bus: the message shapes, the NUL-delimited frame codec and
// the per-connection state machine that the broker and the client runtime
// both build on.
package wire

import (
	"encoding/json"
	"fmt"
)

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Kind distinguishes the three message shapes the protocol allows on the
// wire: a command carries a method invocation, a response carries its
// result, and an error carries a failure in place of a result.
type Kind int

const (
	KindCommand Kind = iota
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one frame's worth of routing and payload data. Exactly one of
// Args, Result or (ErrText set) is meaningful, selected by Kind. AgentID and
// ID are owned by the sender of the frame: for a command they name the
// destination agent and a fresh outbound message id; for a response or
// error they have already been rewritten by the broker to match the
// original caller's agent id and message id.
type Message struct {
	Kind Kind

	AgentID int64
	ID      int64

	Cmd  string
	Args json.RawMessage

	Result json.RawMessage

	ErrText string
	ErrCode int
}

// NewCommand builds a command message addressed to agentID.
func NewCommand(agentID, id int64, cmd string, args json.RawMessage) Message {
	return Message{Kind: KindCommand, AgentID: agentID, ID: id, Cmd: cmd, Args: args}
}

// NewResponse builds a response message carrying result back to agentID/id.
func NewResponse(agentID, id int64, result json.RawMessage) Message {
	return Message{Kind: KindResponse, AgentID: agentID, ID: id, Result: result}
}

// NewError builds an error message carrying a protocol error code back to
// agentID/id.
func NewError(agentID, id int64, errText string, code int) Message {
	return Message{Kind: KindError, AgentID: agentID, ID: id, ErrText: errText, ErrCode: code}
}

type wireCommand struct {
	AgentID int64           `json:"agentId"`
	ID      int64           `json:"id"`
	Cmd     string          `json:"cmd"`
	Msg     json.RawMessage `json:"msg"`
}

type wireResponse struct {
	AgentID  int64           `json:"agentId"`
	ID       int64           `json:"id"`
	Response json.RawMessage `json:"response"`
}

type wireError struct {
	AgentID int64  `json:"agentId"`
	ID      int64  `json:"id"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

// MarshalJSON emits exactly the key set for the message's Kind.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindCommand:
		args := m.Args
		if args == nil {
			args = json.RawMessage("{}")
		}
		return json.Marshal(wireCommand{AgentID: m.AgentID, ID: m.ID, Cmd: m.Cmd, Msg: args})
	case KindResponse:
		result := m.Result
		if result == nil {
			result = json.RawMessage("null")
		}
		return json.Marshal(wireResponse{AgentID: m.AgentID, ID: m.ID, Response: result})
	case KindError:
		return json.Marshal(wireError{AgentID: m.AgentID, ID: m.ID, Error: m.ErrText, Code: m.ErrCode})
	default:
		return nil, fmt.Errorf("wire: unknown message kind %v", m.Kind)
	}
}

// UnmarshalJSON infers Kind from which of cmd/response/error is present in
// the frame, rather than from the value of that key (response may
// legitimately be JSON null).
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch {
	case has(raw, "cmd"):
		var c wireCommand
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("wire: malformed command frame: %w", err)
		}
		*m = Message{Kind: KindCommand, AgentID: c.AgentID, ID: c.ID, Cmd: c.Cmd, Args: c.Msg}
	case has(raw, "response"):
		var r wireResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("wire: malformed response frame: %w", err)
		}
		*m = Message{Kind: KindResponse, AgentID: r.AgentID, ID: r.ID, Result: r.Response}
	case has(raw, "error"):
		var e wireError
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("wire: malformed error frame: %w", err)
		}
		*m = Message{Kind: KindError, AgentID: e.AgentID, ID: e.ID, ErrText: e.Error, ErrCode: e.Code}
	default:
		return fmt.Errorf("wire: frame has none of cmd/response/error keys")
	}

	return nil
}

func has(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}
