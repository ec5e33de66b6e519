package client_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/myaut/tsload/client"
	"github.com/myaut/tsload/internal/object"
	"github.com/myaut/tsload/internal/rpcdef"
	"github.com/myaut/tsload/internal/wire"
)

var (
	echoMethod = rpcdef.NewMethod("echo", object.String(),
		rpcdef.Arg{Name: "s", Kind: object.String()})
)

// fakeBroker is the server end of a pipe, speaking raw frames.
type fakeBroker struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func newFakeBroker(t *testing.T) (*fakeBroker, *client.Client) {
	clientEnd, serverEnd := net.Pipe()
	c := client.New(clientEnd, 0, nil)
	t.Cleanup(func() { c.Close(); serverEnd.Close() })
	return &fakeBroker{t: t, nc: serverEnd, r: bufio.NewReader(serverEnd)}, c
}

func (fb *fakeBroker) send(frame string) {
	fb.t.Helper()
	if _, err := fb.nc.Write(append([]byte(frame), 0x00)); err != nil {
		fb.t.Fatalf("write frame: %v", err)
	}
}

func (fb *fakeBroker) recv() map[string]json.RawMessage {
	fb.t.Helper()
	frame, err := fb.r.ReadBytes(0x00)
	if err != nil {
		fb.t.Fatalf("read frame: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(frame[:len(frame)-1], &decoded); err != nil {
		fb.t.Fatalf("decode frame %q: %v", frame, err)
	}
	return decoded
}

func TestClientServesInboundCommand(t *testing.T) {
	fb, c := newFakeBroker(t)
	c.RegisterHandler(rpcdef.NewHandler(echoMethod,
		func(ctx *rpcdef.CallContext, args map[string]interface{}) (interface{}, error) {
			return object.Str(args["s"]) + "!", nil
		}))

	fb.send(`{"agentId":0,"id":7,"cmd":"echo","msg":{"s":"hi"}}`)
	reply := fb.recv()
	if string(reply["id"]) != "7" {
		t.Errorf("reply id = %s, want 7", reply["id"])
	}
	if string(reply["response"]) != `"hi!"` {
		t.Errorf("reply response = %s, want \"hi!\"", reply["response"])
	}
}

func TestClientRejectsUnknownInboundCommand(t *testing.T) {
	fb, _ := newFakeBroker(t)

	fb.send(`{"agentId":0,"id":9,"cmd":"nope","msg":{}}`)
	reply := fb.recv()
	if string(reply["code"]) != "100" {
		t.Errorf("reply code = %s, want 100", reply["code"])
	}
	if string(reply["id"]) != "9" {
		t.Errorf("reply id = %s, want 9", reply["id"])
	}
}

func TestClientCallResolvesOnResponse(t *testing.T) {
	fb, c := newFakeBroker(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := c.Call(context.Background(), 2, echoMethod, map[string]interface{}{"s": "x"})
		if err != nil {
			t.Errorf("Call: %v", err)
			return
		}
		if string(raw) != `"y"` {
			t.Errorf("Call = %s, want \"y\"", raw)
		}
	}()

	sent := fb.recv()
	if string(sent["cmd"]) != `"echo"` || string(sent["agentId"]) != "2" {
		t.Fatalf("sent frame = %v", sent)
	}
	fb.send(`{"agentId":0,"id":` + string(sent["id"]) + `,"response":"y"}`)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Call never returned")
	}
}

func TestClientCallFailsOnErrorFrame(t *testing.T) {
	fb, c := newFakeBroker(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), 2, echoMethod, map[string]interface{}{"s": "x"})
		errCh <- err
	}()

	sent := fb.recv()
	fb.send(`{"agentId":0,"id":` + string(sent["id"]) + `,"error":"Access is denied","code":201}`)

	select {
	case err := <-errCh:
		pe, ok := err.(*wire.Error)
		if !ok {
			t.Fatalf("err = %v (%T), want *wire.Error", err, err)
		}
		if pe.Code != wire.ErrAccessDenied || pe.Message != "Access is denied" {
			t.Errorf("err = %v, want access denied 201", pe)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Call never returned")
	}
}

func TestClientCallRespectsContext(t *testing.T) {
	fb, c := newFakeBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, 2, echoMethod, map[string]interface{}{"s": "x"})
		errCh <- err
	}()
	fb.recv() // swallow the command; never answer

	select {
	case err := <-errCh:
		if err != context.DeadlineExceeded {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Call never returned")
	}
}

func TestClientFailsPendingCallsOnClose(t *testing.T) {
	fb, c := newFakeBroker(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), 2, echoMethod, map[string]interface{}{"s": "x"})
		errCh <- err
	}()
	fb.recv()
	c.Close()

	select {
	case err := <-errCh:
		pe, ok := err.(*wire.Error)
		if !ok || pe.Code != wire.ErrConnectionErr {
			t.Errorf("err = %v, want connection-error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Call never returned")
	}
}
