package rpcdef

import "github.com/myaut/tsload/internal/wire"

// CallContext is passed to every server-side handler. It carries the
// calling connection (so handlers like hello and authMasterKey can
// mutate the caller's own agent-type, uuid or auth level) and the
// message id the command arrived under, for handlers that need to
// correlate out-of-band state.
type CallContext struct {
	Conn  *wire.Conn
	MsgID int64
}
