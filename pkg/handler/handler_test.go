package handler_test

import (
	"testing"
	"time"

	"github.com/haldor/go-hapcore/pkg/handler"
)

func TestFuncTokenAwaitAfterResolve(t *testing.T) {
	tok := handler.NewFuncToken()
	tok.Resolve(handler.ResolvedBody{Body: []byte("late")})

	got := make(chan handler.ResolvedBody, 1)
	tok.Await(func(rb handler.ResolvedBody) { got <- rb })

	select {
	case rb := <-got:
		if string(rb.Body) != "late" {
			t.Fatalf("got %q", rb.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestFuncTokenAwaitBeforeResolve(t *testing.T) {
	tok := handler.NewFuncToken()
	got := make(chan handler.ResolvedBody, 1)
	tok.Await(func(rb handler.ResolvedBody) { got <- rb })

	tok.Resolve(handler.ResolvedBody{Body: []byte("now")})

	select {
	case rb := <-got:
		if string(rb.Body) != "now" {
			t.Fatalf("got %q", rb.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestFuncTokenResolveOnlyOnce(t *testing.T) {
	tok := handler.NewFuncToken()
	got := make(chan handler.ResolvedBody, 2)
	tok.Await(func(rb handler.ResolvedBody) { got <- rb })

	tok.Resolve(handler.ResolvedBody{Body: []byte("first")})
	tok.Resolve(handler.ResolvedBody{Body: []byte("second")})

	select {
	case rb := <-got:
		if string(rb.Body) != "first" {
			t.Fatalf("got %q", rb.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	select {
	case rb := <-got:
		t.Fatalf("expected only one delivery, got a second: %v", rb)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFuncTokenCancelDeliversErrCancelled(t *testing.T) {
	tok := handler.NewFuncToken()
	got := make(chan handler.ResolvedBody, 1)
	tok.Await(func(rb handler.ResolvedBody) { got <- rb })

	tok.Cancel()

	select {
	case rb := <-got:
		if rb.Err != handler.ErrCancelled {
			t.Fatalf("got err %v, want ErrCancelled", rb.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestBodyIsPending(t *testing.T) {
	ready := handler.ReadyBody([]byte("x"))
	if ready.IsPending() {
		t.Fatal("ReadyBody must not report pending")
	}

	pending := handler.PendingBody(handler.NewFuncToken())
	if !pending.IsPending() {
		t.Fatal("PendingBody must report pending")
	}
}
