package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/server/api/websocket"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
)

// Server is the HTTP(S) listener serving the job API, admin API, and log firehose WebSocket.
type Server struct {
	httpServer *http.Server
	log        logger.Log
}

func NewServer(config Config, orch *orchestrator.Orchestrator, bus *event.EventBus, wsHub *websocket.Hub, logFactory logger.LogFactory) *Server {
	router := newRouter(config, orch, bus, wsHub, logFactory)
	return &Server{
		httpServer: &http.Server{
			Addr:    config.Addr,
			Handler: router,
		},
		log: logFactory("REST"),
	}
}

// Start begins listening in the background; a failure to bind is reported asynchronously via
// Fatalf, matching the posture that a server that can't listen has no useful way to continue.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Fatalf("error starting HTTP server: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	return nil
}
