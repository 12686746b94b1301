// Package server exposes turns and actions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dmagent/internal/debug"
	"dmagent/internal/faults"
	"dmagent/internal/game/director"
	"dmagent/internal/observability"
)

const (
	noReply = "No response from agent"

	defaultMaxBodyBytes = 1 << 20
)

// Player runs turns.
type Player interface {
	PlayTurn(ctx context.Context, req director.TurnRequest) (director.TurnResponse, error)
}

// ActionHandler answers raw action requests in their own calling convention.
type ActionHandler interface {
	Handle(ctx context.Context, raw []byte) []byte
}

type Config struct {
	Addr         string
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxBodyBytes caps request bodies; 0 means 1 MiB.
	MaxBodyBytes int64
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	player     Player
	actions    ActionHandler
	metrics    *observability.Metrics
	debug      *debug.Logger
	maxBody    int64
}

func New(cfg Config, player Player, actions ActionHandler, metrics *observability.Metrics, debug *debug.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())

	s := &Server{
		engine:  engine,
		player:  player,
		actions: actions,
		metrics: metrics,
		debug:   debug.With("http"),
		maxBody: cfg.MaxBodyBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST("/play", s.handlePlay)
	if s.actions != nil {
		s.engine.POST("/actions", s.handleActions)
	}
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.debug.Printf("listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// readBody reads at most maxBody bytes of the request body, answering 413
// when it is longer.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err == nil {
		return raw, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.debug.Printf("%s %s -> 413: body over %d bytes", c.Request.Method, c.Request.URL.Path, tooLarge.Limit)
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			Kind:  string(faults.KindValidation),
		})
		return nil, false
	}
	s.fail(c, faults.Validation("failed to read request body"))
	return nil, false
}

func (s *Server) handlePlay(c *gin.Context) {
	var req director.TurnRequest
	raw, ok := s.readBody(c)
	if !ok {
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			s.fail(c, faults.Validation("request body must be a JSON object"))
			return
		}
	}

	resp, err := s.player.PlayTurn(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	reply := resp.Reply
	if reply == "" {
		reply = noReply
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleActions(c *gin.Context) {
	raw, ok := s.readBody(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "application/json", s.actions.Handle(c.Request.Context(), raw))
}

func (s *Server) fail(c *gin.Context, err error) {
	f := faults.As(err)
	status := faults.HTTPStatus(f.Kind)
	s.debug.Printf("%s %s -> %d: %v", c.Request.Method, c.Request.URL.Path, status, err)

	resp := ErrorResponse{Error: f.Message, Kind: string(f.Kind), Missing: f.Missing}
	if f.Err != nil {
		resp.Message = f.Err.Error()
	}
	if f.Kind == faults.KindInternal {
		resp.Error = "Agent invocation failed"
	}
	c.JSON(status, resp)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
