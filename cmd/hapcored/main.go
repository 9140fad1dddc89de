// Command hapcored runs a minimal HAP transport-core server backed by a
// stub accessory handler, in the same spirit as the teacher's
// cmd/protocol_test and cmd/simple_pool_test smoke binaries: a runnable
// demonstration of the library, not a product.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/haldor/go-hapcore/pkg/constants"
	"github.com/haldor/go-hapcore/pkg/handler"
	"github.com/haldor/go-hapcore/pkg/server"
)

func main() {
	addr := flag.String("addr", ":8732", "listen address")
	flag.Parse()

	logger := log.New(os.Stdout, "hapcored: ", log.LstdFlags)

	srv := server.New(server.Config{
		ListenAddr:     *addr,
		HandlerFactory: func() handler.Handler { return &stubAccessoryHandler{} },
	})

	if err := srv.Start(); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("listening on %s", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Printf("shutting down, %d active connections", srv.Stats().Active)
	if err := srv.Stop(); err != nil {
		logger.Fatalf("stop: %v", err)
	}
}

// stubAccessoryHandler answers every request with an empty HAP-JSON
// object, rejecting anything but /accessories before a connection is
// encrypted. It exists to exercise the transport core end to end; the
// real accessory object graph, pairing state machine, and TLV8 codec are
// out of scope for this repository.
type stubAccessoryHandler struct{}

func (stubAccessoryHandler) Dispatch(_ context.Context, req handler.Request) handler.Response {
	if req.Target != "/accessories" && !req.Encrypted {
		return handler.Response{
			Status: 470,
			Reason: "Connection Authorization Required",
			Headers: []handler.HeaderField{
				{Name: "Content-Type", Value: constants.ContentTypeHAPJSON},
			},
			Body: handler.ReadyBody([]byte(`{"status":-70401}`)),
		}
	}

	return handler.Response{
		Status: 200,
		Headers: []handler.HeaderField{
			{Name: "Content-Type", Value: constants.ContentTypeHAPJSON},
		},
		Body: handler.ReadyBody([]byte(`{}`)),
	}
}
