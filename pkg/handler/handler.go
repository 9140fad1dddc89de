// Package handler defines the thin boundary between the transport core
// and the accessory object graph: the request/response shapes the
// Connection Engine exchanges with a pluggable Handler, and the Token
// type a handler uses to defer a response body (a camera snapshot still
// being captured, a firmware write still in flight).
package handler

import (
	"context"
	"errors"
	"sync"
)

// HeaderField is one header's name/value pair, passed through from (or
// to) httpcodec.HeaderField without importing that package's parsing
// internals into the handler boundary.
type HeaderField struct {
	Name  string
	Value string
}

// Request is the fully-assembled inbound HTTP request handed to the
// accessory handler once the codec has reported EndOfMessage.
type Request struct {
	Method  string
	Target  string
	Headers []HeaderField
	Body    []byte

	// Encrypted reports whether this request arrived over the connection's
	// Encrypted state. The accessory graph is responsible for rejecting
	// requests that require pairing when this is false; the transport core
	// does not inspect targets or enforce this itself.
	Encrypted bool
}

// ResolvedBody is what a deferred Token ultimately resolves to.
type ResolvedBody struct {
	Body []byte
	Err  error
}

// ErrCancelled is the error a Token resolves with when its owning
// connection closes before the deferred body became available.
var ErrCancelled = errors.New("hapcore: deferred response cancelled")

// Token represents a response body not yet available at the time
// Handler.Dispatch returns.
type Token interface {
	// Await registers fn to be invoked exactly once, from whatever
	// goroutine produces (or cancels) the result.
	Await(fn func(ResolvedBody))
	// Cancel requests immediate resolution with ErrCancelled. Called by
	// the owning Connection when it closes with this token still pending.
	Cancel()
}

// Body is a tagged union: exactly one of Ready or Pending is set.
type Body struct {
	Ready   []byte
	Pending Token
}

// ReadyBody wraps an immediately-available response body.
func ReadyBody(b []byte) Body {
	return Body{Ready: b}
}

// PendingBody wraps a body that resolves later through tok.
func PendingBody(tok Token) Body {
	return Body{Pending: tok}
}

// IsPending reports whether the body is not yet available.
func (b Body) IsPending() bool {
	return b.Pending != nil
}

// Response is what Handler.Dispatch returns synchronously; the body
// itself may still be pending.
type Response struct {
	Status  int
	Reason  string
	Headers []HeaderField
	Body    Body

	// SharedKey, when exactly constants.FrameKeySize bytes, instructs the
	// Connection Engine to install a CryptoSession and move to Encrypted
	// immediately after this response is written on the wire. Any other
	// length is treated as "no handoff".
	SharedKey []byte

	// Chunked requests Transfer-Encoding: chunked framing instead of
	// Content-Length, for bodies whose size isn't known up front.
	Chunked bool
}

// Handler is the sole pluggable collaborator the transport core depends
// on: the accessory object graph, pairing state machine, and persistent
// storage all live behind this one method.
type Handler interface {
	Dispatch(ctx context.Context, req Request) Response
}

// FuncToken is a minimal Token backed by a mutex-guarded callback slot,
// suitable for a handler that kicks off a goroutine to produce a
// deferred body and resolves the token when that goroutine finishes.
type FuncToken struct {
	mu       sync.Mutex
	resolved bool
	result   ResolvedBody
	waiter   func(ResolvedBody)
}

// NewFuncToken creates an unresolved token.
func NewFuncToken() *FuncToken {
	return &FuncToken{}
}

// Resolve delivers rb to the registered waiter, or stores it for a
// waiter that registers later. Only the first call has any effect.
func (t *FuncToken) Resolve(rb ResolvedBody) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return
	}
	t.resolved = true
	t.result = rb
	if t.waiter != nil {
		w := t.waiter
		t.waiter = nil
		go w(rb)
	}
}

// Await implements Token.
func (t *FuncToken) Await(fn func(ResolvedBody)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		rb := t.result
		go fn(rb)
		return
	}
	t.waiter = fn
}

// Cancel implements Token.
func (t *FuncToken) Cancel() {
	t.Resolve(ResolvedBody{Err: ErrCancelled})
}
