package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ptzserver/internal/microservices/tcp"
	"ptzserver/internal/shared"
)

// Manager is the part of the ConnectionManager the admin API reads and drives.
type Manager interface {
	IsServing() bool
	Port() int
	ClientCount() int
	Status() map[string]shared.SubsystemState
	Sessions() []tcp.SessionInfo
	Disconnect(id string) bool
}

// HandshakeLog serves recent handshake outcomes, e.g. the Redis audit repo.
type HandshakeLog interface {
	Recent(ctx context.Context, n int) ([]*tcp.HandshakeEvent, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// Announcer reports on the discovery broadcaster.
type Announcer interface {
	IsActive() bool
	Sent() uint64
	Err() error
}

type Handler struct {
	manager    Manager
	handshakes HandshakeLog // nil when no audit cache is configured
	announcer  Announcer    // nil when announcements are disabled
	shutdown   func()
	version    float64
}

func NewHandler(manager Manager, handshakes HandshakeLog, announcer Announcer, shutdown func(), version float64) *Handler {
	return &Handler{
		manager:    manager,
		handshakes: handshakes,
		announcer:  announcer,
		shutdown:   shutdown,
		version:    version,
	}
}

// RegisterRoutes mounts the read-only routes on public and the mutating ones on protected.
func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/health", h.Health)
	public.GET("/status", h.GetStatus)
	public.GET("/clients", h.GetClients)
	public.GET("/handshakes", h.GetHandshakes)

	protected.DELETE("/clients/:id", h.DisconnectClient)
	protected.POST("/shutdown", h.Shutdown)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus returns the serving flag, port, client count and subsystem table
func (h *Handler) GetStatus(c *gin.Context) {
	resp := gin.H{
		"serving":          h.manager.IsServing(),
		"port":             h.manager.Port(),
		"protocol_version": h.version,
		"clients":          h.manager.ClientCount(),
		"subsystems":       h.manager.Status(),
	}

	if h.announcer != nil {
		announcer := gin.H{
			"active": h.announcer.IsActive(),
			"sent":   h.announcer.Sent(),
		}
		if err := h.announcer.Err(); err != nil {
			announcer["error"] = err.Error()
		}
		resp["announcer"] = announcer
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetClients(c *gin.Context) {
	sessions := h.manager.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"clients": sessions,
		"count":   len(sessions),
	})
}

// GetHandshakes returns the outcome counters and the newest events.
// ?limit=N bounds the event list (default 50).
func (h *Handler) GetHandshakes(c *gin.Context) {
	if h.handshakes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "handshake audit is not configured"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.handshakes.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events, err := h.handshakes.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats, "events": events})
}

// DisconnectClient force-closes one session
func (h *Handler) DisconnectClient(c *gin.Context) {
	id := c.Param("id")
	if !h.manager.Disconnect(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}

	subject, _ := c.Get("subject")
	loggerFrom(c).Info("client_disconnected_by_operator",
		"session_id", id,
		"operator", subject,
	)
	c.Status(http.StatusNoContent)
}

// Shutdown asks the process to stop; the response is sent before teardown starts.
func (h *Handler) Shutdown(c *gin.Context) {
	subject, _ := c.Get("subject")
	loggerFrom(c).Warn("shutdown_requested", "operator", subject)

	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
	if h.shutdown != nil {
		go h.shutdown()
	}
}
