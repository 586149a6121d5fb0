package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"convoforge/internal/config"
	"convoforge/internal/conversation"
	"convoforge/internal/models"
	"convoforge/internal/provider"
	"convoforge/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeGrace          = 15 * time.Second
	idleTimeout         = 120 * time.Second

	// A turn makes one streamed call and two extraction calls, each bounded
	// by the request timeout.
	callsPerTurn = 3
)

type Server struct {
	cfg          config.Config
	registry     *provider.Registry
	conversation *conversation.Orchestrator
	app          *echo.Echo
	address      string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, registry *provider.Registry, conv *conversation.Orchestrator) (*Server, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if conv == nil {
		return nil, errors.New("conversation must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:          cfg,
		registry:     registry,
		conversation: conv,
		app:          e,
		address:      fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address, "provider", s.registry.ActiveID())

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: callsPerTurn*s.cfg.RequestTimeout + writeGrace,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	s.app.GET("/v1/conversation", s.handleGetConversation)
	s.app.DELETE("/v1/conversation", s.handleResetConversation)
	s.app.POST("/v1/conversation/turns", s.handleTurn)
	s.app.POST("/v1/conversation/turns/stream", s.handleTurnStream)
	s.app.POST("/v1/conversation/highlights", s.handleHighlights)

	s.app.PATCH("/v1/decisions/:id", s.handleUpdateDecision)
	s.app.DELETE("/v1/decisions/:id", s.handleRemoveDecision)

	s.app.GET("/v1/providers", s.handleListProviders)
	s.app.PUT("/v1/providers/active", s.handleSetActiveProvider)
	s.app.PUT("/v1/providers/:id/model", s.handleSetModel)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.registry.ActiveID(),
	})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	return c.JSON(http.StatusOK, s.conversation.Snapshot())
}

func (s *Server) handleResetConversation(c echo.Context) error {
	if err := s.conversation.Reset(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, s.conversation.Snapshot())
}

func (s *Server) handleTurn(c echo.Context) error {
	var req translator.TurnRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	res, err := s.conversation.SendTurn(c.Request().Context(), req.Text, nil)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromResult(res))
}

// handleTurnStream relays chunks as SSE "chunk" events while the turn runs,
// then one "result" or "error" event.
func (s *Server) handleTurnStream(c echo.Context) error {
	var req translator.TurnRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	var writeErr error
	onChunk := func(chunk models.StreamChunk) {
		if writeErr != nil {
			return
		}
		if writeErr = writeSSEEvent(writer, "chunk", translator.FromChunk(chunk)); writeErr != nil {
			slog.Error("failed to write SSE event", "event", "chunk", "err", writeErr)
			return
		}
		flusher.Flush()
	}

	res, err := s.conversation.SendTurn(c.Request().Context(), req.Text, onChunk)
	if err != nil {
		reqErr := toRequestError(err)
		if writeErr := writeSSEEvent(writer, "error", translator.ErrorEvent{Message: reqErr.Message, Type: reqErr.Type}); writeErr != nil {
			slog.Error("failed to write SSE event", "event", "error", "err", writeErr)
		}
		flusher.Flush()
		return nil
	}

	if err := writeSSEEvent(writer, "result", translator.FromResult(res)); err != nil {
		slog.Error("failed to write SSE event", "event", "result", "err", err)
		return nil
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleHighlights(c echo.Context) error {
	var req translator.HighlightRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if len(req.MessageIDs) == 0 {
		s.conversation.ClearHighlights()
	} else {
		s.conversation.HighlightMessages(req.MessageIDs)
	}
	return c.JSON(http.StatusOK, map[string][]string{"highlighted": s.conversation.Highlighted()})
}

func (s *Server) handleUpdateDecision(c echo.Context) error {
	var patch translator.DecisionPatch
	if err := decodeRequestBody(c, &patch); err != nil {
		return err
	}

	decision, err := s.conversation.UpdateDecision(c.Param("id"), patch.ToUpdate())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleRemoveDecision(c echo.Context) error {
	if err := s.conversation.RemoveDecision(c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, translator.FromAdapters(s.registry.List(), s.registry.ActiveID()))
}

func (s *Server) handleSetActiveProvider(c echo.Context) error {
	var req translator.ActiveProviderRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if err := s.registry.SetActive(req.ID); err != nil {
		return toHTTPError(err)
	}
	slog.Info("active provider changed", "provider", req.ID)
	return c.JSON(http.StatusOK, translator.FromAdapters(s.registry.List(), s.registry.ActiveID()))
}

func (s *Server) handleSetModel(c echo.Context) error {
	var req translator.ModelRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	id := c.Param("id")
	if err := s.registry.SetModel(id, req.Model); err != nil {
		return toHTTPError(err)
	}

	adapter, err := s.registry.Get(id)
	if err != nil {
		return toHTTPError(err)
	}
	slog.Info("model selected", "provider", id, "model", req.Model)
	return c.JSON(http.StatusOK, translator.FromAdapter(adapter, s.registry.ActiveID()))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	type httpError interface {
		Code() int
		Error() string
	}

	if he, ok := err.(httpError); ok {
		_ = writeError(c, he.Code(), he.Error(), "invalid_request_error", "")
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, fmt.Sprint(echoErr.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) error {
	return toRequestError(err)
}

// toRequestError maps domain errors to statuses. Contract violations are the
// caller's fault; a failed turn is the upstream provider's.
func toRequestError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	if provider.IsContractViolation(err) {
		slog.Warn("provider registry rejected request", "error", err)
	}

	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrInvalidStatus),
		errors.Is(err, provider.ErrUnknownModel):
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error"}
	case errors.Is(err, conversation.ErrDecisionNotFound),
		errors.Is(err, provider.ErrNotInitialized):
		return requestError{Status: http.StatusNotFound, Message: err.Error(), Type: "not_found_error"}
	case errors.Is(err, provider.ErrNoActiveProvider):
		return requestError{Status: http.StatusServiceUnavailable, Message: err.Error(), Type: "no_provider_error"}
	case errors.Is(err, context.DeadlineExceeded):
		return requestError{Status: http.StatusGatewayTimeout, Message: "upstream provider timed out", Type: "timeout_error"}
	case errors.Is(err, conversation.ErrTurnFailed):
		return requestError{Status: http.StatusBadGateway, Message: err.Error(), Type: "upstream_error"}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("convoforge ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET    /health")
	fmt.Println("  GET    /v1/conversation")
	fmt.Println("  DELETE /v1/conversation")
	fmt.Println("  POST   /v1/conversation/turns")
	fmt.Println("  POST   /v1/conversation/turns/stream")
	fmt.Println("  POST   /v1/conversation/highlights")
	fmt.Println("  PATCH  /v1/decisions/:id")
	fmt.Println("  DELETE /v1/decisions/:id")
	fmt.Println("  GET    /v1/providers")
	fmt.Println("  PUT    /v1/providers/active")
	fmt.Println("  PUT    /v1/providers/:id/model")
	fmt.Printf("Example:\n  curl -N http://%s:%d/v1/conversation/turns/stream -H 'Content-Type: application/json' -d '{\"text\":\"I want to build a fitness app\"}'\n\n", host, port)
}
