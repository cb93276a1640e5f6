package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sentirelabs/sentire/domain/repositories"
	"github.com/sentirelabs/sentire/internal/websocket"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, store repositories.ConversationRepository, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "sentire-server",
		})
	})

	// Registry and pipeline status
	e.GET("/status", func(c echo.Context) error {
		return serverStatus(c, hub, store, logger)
	})

	// Per-session conversation metrics
	e.GET("/sessions/:id/metrics", func(c echo.Context) error {
		return sessionMetrics(c, store, logger)
	})

	// WebSocket endpoint
	e.GET("/ws", websocket.HandleWebSocket(hub, logger))
}

func serverStatus(c echo.Context, hub *websocket.Hub, store repositories.ConversationRepository, logger *zap.Logger) error {
	connections, activeSessions, uptime := hub.Stats()
	response := StatusResponse{
		Connections:    connections,
		ActiveSessions: activeSessions,
		UptimeSeconds:  int64(uptime.Seconds()),
		Timestamp:      time.Now(),
	}

	snapshot, err := store.LatestMetricsSnapshot(c.Request().Context())
	if err != nil {
		logger.Error("Failed to load metrics snapshot", zap.Error(err))
	} else if snapshot != nil {
		response.LastSnapshot = &SnapshotSummary{
			Connections:    snapshot.Connections,
			ActiveSessions: snapshot.ActiveSessions,
			CreatedAt:      snapshot.CreatedAt,
		}
	}

	return c.JSON(http.StatusOK, response)
}

func sessionMetrics(c echo.Context, store repositories.ConversationRepository, logger *zap.Logger) error {
	sessionID := c.Param("id")

	session, err := store.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		logger.Error("Failed to load session", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load session",
		})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No session with the given id",
		})
	}

	metrics, err := store.SessionMetrics(c.Request().Context(), sessionID)
	if err != nil {
		logger.Error("Failed to load session metrics", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load session metrics",
		})
	}

	return c.JSON(http.StatusOK, metrics)
}
