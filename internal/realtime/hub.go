// Package realtime streams detection events to WebSocket subscribers.
//
// Each connection is pinned to one tenant at upgrade time. Clients may
// narrow the feed afterwards by sending a Subscription message; they can
// never widen it to another tenant.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
)

// TenantHeader is read when the tenantId query parameter is absent.
const TenantHeader = "X-Tenant-ID"

// MaxClients is the default cap on concurrent WebSocket connections.
const MaxClients = 10000

const (
	sendBuffer      = 64
	broadcastBuffer = 256
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	writeWait       = 10 * time.Second
	maxMessageSize  = 4 * 1024
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Subscription narrows what a client receives.
type Subscription struct {
	EventTypes []events.EventType `json:"eventTypes"` // empty means all
	MinScore   float64            `json:"minScore"`   // riskScore or anomalyScore floor
}

// Client represents a WebSocket connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID string
	send     chan []byte
	mu       sync.RWMutex
	sub      Subscription
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins accepts browser upgrades from the listed origins.
// "*" accepts any origin. Without this option only same-host origins pass.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.origins = make(map[string]bool, len(origins))
		for _, o := range origins {
			h.origins[o] = true
		}
	}
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	origins    map[string]bool
	upgrader   websocket.Upgrader

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Event, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Subscribe feeds every detection event on bus into the hub.
func (h *Hub) Subscribe(bus *events.Bus) {
	bus.Subscribe("realtime", func(_ context.Context, event *events.Event) error {
		h.Broadcast(event)
		return nil
	},
		events.EventAnomalyDetected,
		events.EventOutagePredicted,
		events.EventFraudPredicted,
	)
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.RealtimeClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.RealtimeClients.Set(float64(n))
			h.logger.Debug("stream client connected", "tenant", client.tenantID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.RealtimeClients.Set(float64(n))
			h.logger.Debug("stream client disconnected", "tenant", client.tenantID, "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			msg, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("stream event not serializable", "type", event.Type, "error", err)
				continue
			}
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- msg:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
				h.logger.Warn("dropped slow stream clients", "count", len(slow))
			}
		}
	}
}

// wants reports whether event belongs to the client's tenant and passes
// its subscription filters.
func (c *Client) wants(event *events.Event) bool {
	if tenant, _ := event.Data["tenantId"].(string); tenant != c.tenantID {
		return false
	}

	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()

	if len(sub.EventTypes) > 0 {
		matched := false
		for _, t := range sub.EventTypes {
			if t == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if sub.MinScore > 0 && eventScore(event) < sub.MinScore {
		return false
	}
	return true
}

func eventScore(event *events.Event) float64 {
	for _, k := range []string{"riskScore", "anomalyScore"} {
		if v, ok := event.Data[k].(float64); ok {
			return v
		}
	}
	return 0
}

// Broadcast queues an event for delivery. It never blocks; events are
// dropped when the hub is saturated.
func (h *Hub) Broadcast(event *events.Event) {
	if event == nil {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	if h.origins["*"] || h.origins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// HandleStream handles GET /v1/stream?tenantId=&type= and upgrades to WebSocket.
func (h *Hub) HandleStream(c *gin.Context) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "Server is shutting down",
		})
		return
	default:
	}

	tenantID := c.Query("tenantId")
	if tenantID == "" {
		tenantID = c.GetHeader(TenantHeader)
	}
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "tenantId: is required",
		})
		return
	}

	if h.Clients() >= h.maxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "too_many_connections",
			"message": "Stream connection limit reached",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logging.L(c.Request.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	var sub Subscription
	for _, t := range c.QueryArray("type") {
		sub.EventTypes = append(sub.EventTypes, events.EventType(t))
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		tenantID: tenantID,
		send:     make(chan []byte, sendBuffer),
		sub:      sub,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump applies subscription updates and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "tenant", c.tenantID, "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "tenant", c.tenantID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
