// Package conn implements the per-connection protocol state machine: it
// owns one accepted socket, feeds inbound bytes through the HTTP codec
// (decrypting first once a shared key has been installed), dispatches
// complete requests to a Handler, serializes the response back onto the
// wire, and performs the mid-stream handoff from plaintext to an
// encrypted CryptoSession.
//
// Every mutation of connection state happens on a single goroutine
// (loop), reached only through the events channel. A deferred response's
// resolution callback, which may run on an arbitrary goroutine, re-enters
// that same goroutine by sending on the channel rather than taking a
// lock — the "no locks across connections" design carried one step
// further, to no locks within a connection either.
package conn

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haldor/go-hapcore/pkg/buffer"
	"github.com/haldor/go-hapcore/pkg/constants"
	"github.com/haldor/go-hapcore/pkg/crypto"
	"github.com/haldor/go-hapcore/pkg/errors"
	"github.com/haldor/go-hapcore/pkg/handler"
	"github.com/haldor/go-hapcore/pkg/httpcodec"
	"github.com/haldor/go-hapcore/pkg/registry"
	"github.com/haldor/go-hapcore/pkg/timing"
)

// State is the connection's position in the protocol lifecycle (§4.3).
type State int

const (
	// StatePlaintext is the initial state: HTTP requests and responses are
	// exchanged unencrypted.
	StatePlaintext State = iota
	// StateAwaitEncryptionHandoff means a response carrying a shared key has
	// been written and the CryptoSession is about to be installed. The
	// connection holds this state only for the instant between the write
	// and the install, so State() reports it only within that window.
	StateAwaitEncryptionHandoff
	// StateEncrypted means all further traffic is framed through a
	// CryptoSession.
	StateEncrypted
	// StateClosed is terminal.
	StateClosed
)

// Writer is the minimal socket contract the Connection Engine needs.
// net.Conn satisfies it.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
}

type pendingResponse struct {
	resp handler.Response
}

type inboundEvent struct{ data []byte }
type resolvedEvent struct{ rb handler.ResolvedBody }
type pushEvent struct {
	payload []byte
	result  chan error
}
type closeEvent struct{}

// Connection is one accepted socket's protocol engine.
type Connection struct {
	addr string
	peer registry.PeerID
	sock Writer
	h    handler.Handler
	reg  *registry.Registry

	codec   *httpcodec.Codec
	session *crypto.Session

	state       State
	stateAtomic atomic.Int32

	partial *httpcodec.Event
	body    *buffer.Buffer
	pending *pendingResponse

	metrics *timing.Timer

	events chan any
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates a Connection for a freshly-accepted socket and registers it
// in reg under peer. Call Run to start processing; until Run is called,
// fed input is queued but not processed.
func New(peer registry.PeerID, sock Writer, h handler.Handler, reg *registry.Registry) *Connection {
	addr := peer.String()
	c := &Connection{
		addr:    addr,
		peer:    peer,
		sock:    sock,
		h:       h,
		reg:     reg,
		codec:   httpcodec.New(addr),
		metrics: timing.NewTimer(),
		events:  make(chan any, 16),
		done:    make(chan struct{}),
	}
	c.metrics.StartHandshake()
	reg.Insert(peer, c)
	return c
}

// Run starts the connection's single processing goroutine.
func (c *Connection) Run() {
	go c.loop()
}

// Feed delivers newly-read socket bytes to the connection for processing.
// Safe to call from a reader goroutine distinct from the one running loop.
func (c *Connection) Feed(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.events <- inboundEvent{data: cp}:
	case <-c.done:
	}
}

// PushEvent implements registry.Conn: it delivers an out-of-band EVENT
// frame to this connection, routed through the owning goroutine so it
// never races a concurrent write from the inbound path.
func (c *Connection) PushEvent(payload []byte) error {
	result := make(chan error, 1)
	select {
	case c.events <- pushEvent{payload: payload, result: result}:
	case <-c.done:
		return errors.NewIOError("push", c.addr, nil)
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return errors.NewIOError("push", c.addr, nil)
	}
}

// Close requests the connection shut down. Idempotent; it returns once the
// request is queued for the loop or the connection has already closed.
func (c *Connection) Close() {
	select {
	case c.events <- closeEvent{}:
	case <-c.done:
	}
}

// State returns the connection's current lifecycle state. Safe for
// concurrent use: the loop goroutine mirrors every state transition into
// an atomic so external readers (registry stats, tests) never race it.
func (c *Connection) State() State {
	return State(c.stateAtomic.Load())
}

// Encrypted reports whether the connection has completed the handoff to
// an encrypted CryptoSession.
func (c *Connection) Encrypted() bool {
	return c.State() == StateEncrypted
}

// Metrics returns a snapshot of this connection's lifecycle metrics.
func (c *Connection) Metrics() timing.Metrics {
	return c.metrics.Snapshot()
}

func (c *Connection) setState(s State) {
	c.state = s
	c.stateAtomic.Store(int32(s))
}

func (c *Connection) loop() {
	for ev := range c.events {
		if c.state == StateClosed {
			continue
		}
		switch e := ev.(type) {
		case inboundEvent:
			c.onInbound(e.data)
		case resolvedEvent:
			c.onResolved(e.rb)
		case pushEvent:
			e.result <- c.onPush(e.payload)
		case closeEvent:
			c.closeNow(nil)
		}
		if c.state == StateClosed {
			close(c.done)
			return
		}
	}
}

func (c *Connection) onPush(payload []byte) error {
	frame := httpcodec.WriteEventFrame(constants.ContentTypeHAPJSON, payload)
	return c.writeRaw(frame)
}

func (c *Connection) onInbound(data []byte) {
	var feed []byte

	if c.state == StateEncrypted {
		c.session.FeedCiphertext(data)
		plain, err := c.session.DrainPlaintext()
		if err != nil {
			c.closeNow(err)
			return
		}
		if len(plain) == 0 {
			return
		}
		feed = plain
	} else {
		feed = data
	}
	c.metrics.RecordBytes(len(feed), 0)

	c.codec.Feed(feed)
	c.pump()
}

// pump drains events from the codec until it needs more data, hits a
// connection-ending condition, or a response is parked pending a deferred
// token — the one point where HAP's no-pipelining rule is enforced: a
// pending response blocks further dispatch on this connection, but
// inbound bytes for the *next* request may still accumulate in the codec.
func (c *Connection) pump() {
	for {
		if c.pending != nil {
			return
		}

		ev := c.codec.Next()
		switch ev.Type {
		case httpcodec.NeedData:
			return

		case httpcodec.Paused:
			if c.partial != nil {
				c.closeNow(errors.NewProtocolStateError(c.addr, "codec paused with a request still in flight"))
				return
			}
			c.codec.Cycle()

		case httpcodec.Request:
			evCopy := ev
			c.partial = &evCopy
			c.body = buffer.New(0)

		case httpcodec.Data:
			if c.partial == nil {
				c.closeNow(errors.NewProtocolStateError(c.addr, "body data delivered without a request"))
				return
			}
			c.body.Write(ev.Chunk)

		case httpcodec.EndOfMessage:
			if c.partial == nil {
				c.closeNow(errors.NewProtocolStateError(c.addr, "end of message without a request"))
				return
			}
			c.dispatch()
			if c.state == StateClosed {
				return
			}

		case httpcodec.MustClose:
			c.closeNow(ev.Err)
			return

		default:
			c.closeNow(errors.NewProtocolStateError(c.addr, "unrecognized codec event"))
			return
		}
	}
}

func (c *Connection) dispatch() {
	reqBody := c.body.Bytes()
	if c.body.IsSpilled() {
		r, err := c.body.Reader()
		if err == nil {
			reqBody, err = io.ReadAll(r)
			r.Close()
		}
		if err != nil {
			c.closeNow(err)
			return
		}
	}

	req := handler.Request{
		Method:    c.partial.Method,
		Target:    c.partial.Target,
		Headers:   toHandlerHeaders(c.partial.Headers),
		Body:      reqBody,
		Encrypted: c.state == StateEncrypted,
	}
	c.partial = nil
	body := c.body
	c.body = nil

	start := time.Now()
	resp := c.h.Dispatch(context.Background(), req)
	c.metrics.RecordDispatch(time.Since(start))
	body.Close()

	c.handleResponse(resp)
}

func (c *Connection) handleResponse(resp handler.Response) {
	if resp.Body.IsPending() {
		c.pending = &pendingResponse{resp: resp}
		token := resp.Body.Pending
		token.Await(func(rb handler.ResolvedBody) {
			select {
			case c.events <- resolvedEvent{rb: rb}:
			case <-c.done:
			}
		})
		return
	}
	c.finishResponse(resp, resp.Body.Ready, nil)
}

func (c *Connection) onResolved(rb handler.ResolvedBody) {
	if c.pending == nil {
		return // stray resolution racing a close; nothing to finish
	}
	resp := c.pending.resp
	c.pending = nil
	c.finishResponse(resp, rb.Body, rb.Err)
	if c.state != StateClosed {
		c.pump()
	}
}

func (c *Connection) finishResponse(resp handler.Response, body []byte, bodyErr error) {
	if bodyErr != nil {
		c.closeNow(bodyErr)
		return
	}

	frame := serializeResponse(resp, body)
	if err := c.writeRaw(frame); err != nil {
		return // writeRaw already closed the connection
	}

	if len(resp.SharedKey) == constants.FrameKeySize {
		c.setState(StateAwaitEncryptionHandoff)

		var secret crypto.SharedSecret
		copy(secret[:], resp.SharedKey)
		session, err := crypto.New(secret, c.addr)
		if err != nil {
			c.closeNow(err)
			return
		}
		c.session = session
		c.setState(StateEncrypted)
		c.metrics.EndHandshake()
	}
}

func (c *Connection) writeRaw(b []byte) error {
	out := b
	if c.state == StateEncrypted {
		enc, err := c.session.Encrypt(b)
		if err != nil {
			c.closeNow(err)
			return err
		}
		out = enc
	}
	if _, err := c.sock.Write(out); err != nil {
		ioErr := errors.NewIOError("write", c.addr, err)
		c.closeNow(ioErr)
		return ioErr
	}
	c.metrics.RecordBytes(0, len(b))
	return nil
}

func (c *Connection) closeNow(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.setState(StateClosed)

		if c.pending != nil {
			if tok := c.pending.resp.Body.Pending; tok != nil {
				tok.Cancel()
			}
			c.pending = nil
		}
		if c.body != nil {
			c.body.Close()
			c.body = nil
		}
		if c.session != nil {
			c.session.Close()
		}
		c.sock.Close()
		c.reg.Remove(c.peer)
	})
}

func toHandlerHeaders(hs []httpcodec.HeaderField) []handler.HeaderField {
	out := make([]handler.HeaderField, len(hs))
	for i, h := range hs {
		out[i] = handler.HeaderField{Name: h.Name, Value: h.Value}
	}
	return out
}

func toCodecHeaders(hs []handler.HeaderField) []httpcodec.HeaderField {
	out := make([]httpcodec.HeaderField, len(hs))
	for i, h := range hs {
		out[i] = httpcodec.HeaderField{Name: h.Name, Value: h.Value}
	}
	return out
}
