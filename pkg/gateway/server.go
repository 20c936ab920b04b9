package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// Health is the pluggable readiness probe for /healthz. nil means always
// healthy.
type Health func(ctx context.Context) error

// Server owns the HTTP surface: the WebSocket upgrade endpoint, the health
// probe, and the metrics handler.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	connManager *ConnectionManager
	health      Health
}

// NewServer builds the echo server and registers routes. metricsHandler may
// be nil to skip /metrics.
func NewServer(connManager *ConnectionManager, health Health, metricsHandler http.Handler) *Server {
	s := &Server{
		echo:        echo.New(),
		connManager: connManager,
		health:      health,
	}
	s.echo.GET("/ws", s.wsHandler)
	s.echo.GET("/healthz", s.healthHandler)
	if metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// wsHandler upgrades HTTP to WebSocket and hands the connection to the
// ConnectionManager. Blocks until the WebSocket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Voice clients are native apps, not browsers; origin checks do
		// not apply. Token validation happens in the AUTH handshake.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health(reqCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": s.connManager.ActiveConnections(),
	})
}
