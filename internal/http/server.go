package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/platform/drain"
)

// shutdownGrace is how long Serve waits for in-flight requests to finish
// once ctx is cancelled before forcing the listener closed.
const shutdownGrace = 15 * time.Second

type Server struct {
	Engine *gin.Engine
	Drain  *drain.Flag
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg), Drain: cfg.Drain}
}

// Run starts and blocks the gateway without graceful shutdown; kept for
// callers that manage their own lifetime (tests, one-off tooling).
func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}

// Serve starts the gateway and blocks until ctx is cancelled. On
// cancellation it marks the server draining first -- so any request that
// races the shutdown sees a clean 503 rather than a connection reset --
// then calls http.Server.Shutdown, which stops accepting new connections
// and waits up to shutdownGrace for in-flight ones to complete.
func (s *Server) Serve(ctx context.Context, address string) error {
	httpServer := &http.Server{Addr: address, Handler: s.Engine}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Drain.Start()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
