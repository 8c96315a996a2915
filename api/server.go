// Package api renders the voting core as JSON over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sruthiidv/BallotGuard-sub000/audit"
	"github.com/sruthiidv/BallotGuard-sub000/service"
)

// ActorHeader names the caller recorded in audit events
const ActorHeader = "X-Actor"

type Server struct {
	svc        *service.VotingService
	logger     *slog.Logger
	addr       string
	httpServer *http.Server
	mu         sync.Mutex
}

func NewServer(svc *service.VotingService, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		svc:    svc,
		logger: logger.With("component", "api"),
		addr:   addr,
	}
}

// Handler returns the routed API with request context middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/public-parameters", s.handlePublicParameters)

	mux.HandleFunc("GET /api/elections", s.handleListElections)
	mux.HandleFunc("POST /api/elections", s.handleCreateElection)
	mux.HandleFunc("GET /api/elections/{id}", s.handleGetElection)
	mux.HandleFunc("POST /api/elections/{id}/transition", s.handleTransitionElection)
	mux.HandleFunc("GET /api/elections/{id}/ledger", s.handleGetLedger)
	mux.HandleFunc("GET /api/elections/{id}/ledger/verify", s.handleVerifyLedger)
	mux.HandleFunc("GET /api/elections/{id}/results", s.handleGetResults)

	mux.HandleFunc("POST /api/voters", s.handleEnrollVoter)
	mux.HandleFunc("POST /api/voters/{id}/approve", s.handleApproveVoter)
	mux.HandleFunc("POST /api/voters/{id}/block", s.handleBlockVoter)

	mux.HandleFunc("POST /api/auth/face", s.handleVerifyFace)
	mux.HandleFunc("POST /api/ovt", s.handleIssueOVT)
	mux.HandleFunc("POST /api/ovt/verify", s.handleVerifyOVT)
	mux.HandleFunc("POST /api/votes", s.handleCastVote)
	mux.HandleFunc("POST /api/receipts/verify", s.handleVerifyReceipt)
	mux.HandleFunc("GET /api/audit", s.handleListAuditEvents)

	return s.withRequestContext(mux)
}

// withRequestContext attaches the caller identity used by the audit log
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = audit.WithActor(ctx, actor)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx = audit.WithRemoteAddr(ctx, host)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.Debug(
			"request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", host,
			"duration", time.Since(start),
		)
	})
}

// Start binds the listener and serves in the background until ctx is done
// or Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown API server", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}
