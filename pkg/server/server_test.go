package server_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/haldor/go-hapcore/pkg/constants"
	"github.com/haldor/go-hapcore/pkg/handler"
	"github.com/haldor/go-hapcore/pkg/registry"
	"github.com/haldor/go-hapcore/pkg/server"
)

type echoHandler struct{}

func (echoHandler) Dispatch(_ context.Context, req handler.Request) handler.Response {
	return handler.Response{
		Status: 200,
		Headers: []handler.HeaderField{
			{Name: "Content-Type", Value: constants.ContentTypeHAPJSON},
		},
		Body: handler.ReadyBody([]byte("{\"target\":\"" + req.Target + "\"}")),
	}
}

func startTestServer(t *testing.T, h handler.Handler) (*server.Server, string) {
	t.Helper()
	srv := server.New(server.Config{
		ListenAddr:     "127.0.0.1:0",
		HandlerFactory: func() handler.Handler { return h },
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, srv.Addr().String()
}

func TestServerRoundTripOverTCP(t *testing.T) {
	_, addr := startTestServer(t, echoHandler{})

	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Write([]byte("GET /accessories HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(c)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if !strings.Contains(status, "200") {
		t.Fatalf("got status line %q", status)
	}
}

func TestServerStatsTracksConnections(t *testing.T) {
	srv, addr := startTestServer(t, echoHandler{})

	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Stats().Active == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Stats().Active != 1 {
		t.Fatalf("expected 1 active connection, got %+v", srv.Stats())
	}

	c.Close()

	deadline = time.Now().Add(2 * time.Second)
	for srv.Stats().Active != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Stats().Active != 0 {
		t.Fatalf("expected connection removed after close, got %+v", srv.Stats())
	}
}

func TestServerPushEventToUnknownPeer(t *testing.T) {
	srv, _ := startTestServer(t, echoHandler{})

	ok := srv.PushEvent(registry.PeerID{Host: "10.9.9.9", Port: 1}, []byte("{}"))
	if ok {
		t.Fatal("expected push to an unregistered peer to report false")
	}
}

func TestServerStopClosesListenerAndConnections(t *testing.T) {
	srv, addr := startTestServer(t, echoHandler{})

	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatal("expected listener to be closed after Stop")
	}
}
