package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
)

// AlertEventType identifies the kind of alert event on the wire.
type AlertEventType string

const (
	AlertEventCreated       AlertEventType = "alert.created"
	AlertEventStatusChanged AlertEventType = "alert.status_changed"
)

// AlertEvent is one real-time alert notification sent to subscribers such as
// the launcher UI.
type AlertEvent struct {
	ID                      string              `json:"id"`
	Type                    AlertEventType      `json:"type"`
	AlertID                 string              `json:"alert_id"`
	CaregiverID             string              `json:"caregiver_id"`
	UserID                  string              `json:"user_id"`
	Level                   safeguard.RiskLevel `json:"level"`
	AlertType               safeguard.AlertType `json:"alert_type"`
	Status                  string              `json:"status"`
	RequiresImmediateAction bool                `json:"requires_immediate_action"`
	Timestamp               time.Time           `json:"timestamp"`
	Data                    interface{}         `json:"data,omitempty"`
}

// AlertEventHub fans alert events out to WebSocket subscribers. It implements
// the alerting publisher contract.
type AlertEventHub struct {
	logger      *zap.Logger
	clients     map[uuid.UUID]*AlertClient
	clientsLock sync.RWMutex
	broadcast   chan *AlertEvent
	register    chan *AlertClient
	unregister  chan *AlertClient
	done        chan struct{}
}

// AlertClient is one WebSocket subscriber.
type AlertClient struct {
	ID      uuid.UUID
	conn    *websocket.Conn
	send    chan *AlertEvent
	hub     *AlertEventHub
	filters AlertEventFilters

	// userID scopes the subscription: clients only receive alerts for the
	// protected user they are watching.
	userID uuid.UUID
}

// AlertEventFilters narrows which events a client receives.
type AlertEventFilters struct {
	CaregiverIDs  []uuid.UUID      `json:"caregiver_ids,omitempty"`
	EventTypes    []AlertEventType `json:"event_types,omitempty"`
	ImmediateOnly bool             `json:"immediate_only,omitempty"`
}

// NewAlertEventHub creates a new alert event hub
func NewAlertEventHub(logger *zap.Logger) *AlertEventHub {
	return &AlertEventHub{
		logger:     logger,
		clients:    make(map[uuid.UUID]*AlertClient),
		broadcast:  make(chan *AlertEvent, 100),
		register:   make(chan *AlertClient),
		unregister: make(chan *AlertClient),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until the context is cancelled.
func (h *AlertEventHub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.done:
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Stop shuts the hub down without waiting for the context.
func (h *AlertEventHub) Stop() {
	close(h.done)
}

// PublishAlertCreated broadcasts a freshly raised alert.
func (h *AlertEventHub) PublishAlertCreated(alert *safeguard.Alert) {
	h.broadcast <- &AlertEvent{
		ID:                      uuid.New().String(),
		Type:                    AlertEventCreated,
		AlertID:                 alert.ID.String(),
		CaregiverID:             alert.CaregiverID.String(),
		UserID:                  alert.UserID.String(),
		Level:                   alert.Level,
		AlertType:               alert.Type,
		Status:                  string(alert.Status),
		RequiresImmediateAction: alert.RequiresImmediateAction,
		Timestamp:               alert.CreatedAt,
		Data: map[string]interface{}{
			"message":             alert.Message,
			"recommended_actions": alert.RecommendedActions,
		},
	}
}

// PublishAlertStatusChanged broadcasts a lifecycle transition.
func (h *AlertEventHub) PublishAlertStatusChanged(alert *safeguard.Alert) {
	event := &AlertEvent{
		ID:                      uuid.New().String(),
		Type:                    AlertEventStatusChanged,
		AlertID:                 alert.ID.String(),
		CaregiverID:             alert.CaregiverID.String(),
		UserID:                  alert.UserID.String(),
		Level:                   alert.Level,
		AlertType:               alert.Type,
		Status:                  string(alert.Status),
		RequiresImmediateAction: alert.RequiresImmediateAction,
		Timestamp:               time.Now().UTC(),
	}
	if alert.ResolutionDetails != nil {
		event.Data = map[string]interface{}{
			"resolution_details": *alert.ResolutionDetails,
		}
	}
	h.broadcast <- event
}

// RegisterClient adds a subscriber.
func (h *AlertEventHub) RegisterClient(client *AlertClient) {
	h.register <- client
}

// UnregisterClient removes a subscriber.
func (h *AlertEventHub) UnregisterClient(client *AlertClient) {
	h.unregister <- client
}

func (h *AlertEventHub) registerClient(client *AlertClient) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[client.ID] = client
	h.logger.Info("alert subscriber registered",
		zap.String("client_id", client.ID.String()),
		zap.String("user_id", client.userID.String()),
	)

	welcome := &AlertEvent{
		ID:        uuid.New().String(),
		Type:      "connection.established",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"client_id": client.ID.String(),
		},
	}
	select {
	case client.send <- welcome:
	default:
	}
}

func (h *AlertEventHub) unregisterClient(client *AlertClient) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, exists := h.clients[client.ID]; exists {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Info("alert subscriber unregistered",
			zap.String("client_id", client.ID.String()))
	}
}

func (h *AlertEventHub) broadcastEvent(event *AlertEvent) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if !client.shouldReceive(event) {
			continue
		}
		select {
		case client.send <- event:
		default:
			// A slow consumer must not block alert delivery to the rest.
			h.logger.Warn("subscriber send buffer full, dropping connection",
				zap.String("client_id", client.ID.String()))
			go func(c *AlertClient) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *AlertEventHub) pingClients() {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
		if err != nil {
			h.logger.Error("subscriber ping failed",
				zap.String("client_id", client.ID.String()),
				zap.Error(err))
			go func(c *AlertClient) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *AlertEventHub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for _, client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[uuid.UUID]*AlertClient)
}

// NewAlertClient creates a subscriber scoped to one protected user.
func NewAlertClient(conn *websocket.Conn, hub *AlertEventHub, userID uuid.UUID) *AlertClient {
	return &AlertClient{
		ID:     uuid.New(),
		conn:   conn,
		send:   make(chan *AlertEvent, 10),
		hub:    hub,
		userID: userID,
	}
}

// ReadPump consumes client messages (filter updates, pings) until the
// connection drops.
func (c *AlertClient) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("subscriber read error",
					zap.String("client_id", c.ID.String()),
					zap.Error(err))
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Error("malformed subscriber message",
				zap.String("client_id", c.ID.String()),
				zap.Error(err))
			continue
		}

		if msgType, ok := msg["type"].(string); ok {
			switch msgType {
			case "update_filters":
				c.updateFilters(msg)
			case "ping":
				pong := &AlertEvent{
					ID:        uuid.New().String(),
					Type:      "pong",
					Timestamp: time.Now().UTC(),
				}
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// WritePump writes hub events and keepalive pings to the connection.
func (c *AlertClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *AlertClient) shouldReceive(event *AlertEvent) bool {
	if c.userID != uuid.Nil && event.UserID != c.userID.String() {
		return false
	}
	if c.filters.ImmediateOnly && !event.RequiresImmediateAction {
		return false
	}
	if len(c.filters.EventTypes) > 0 {
		found := false
		for _, et := range c.filters.EventTypes {
			if et == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.filters.CaregiverIDs) > 0 {
		caregiverID, _ := uuid.Parse(event.CaregiverID)
		found := false
		for _, id := range c.filters.CaregiverIDs {
			if id == caregiverID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *AlertClient) updateFilters(msg map[string]interface{}) {
	filters, ok := msg["filters"].(map[string]interface{})
	if !ok {
		return
	}

	if caregiverIDs, ok := filters["caregiver_ids"].([]interface{}); ok {
		c.filters.CaregiverIDs = make([]uuid.UUID, 0, len(caregiverIDs))
		for _, id := range caregiverIDs {
			if strID, ok := id.(string); ok {
				if uid, err := uuid.Parse(strID); err == nil {
					c.filters.CaregiverIDs = append(c.filters.CaregiverIDs, uid)
				}
			}
		}
	}

	if eventTypes, ok := filters["event_types"].([]interface{}); ok {
		c.filters.EventTypes = make([]AlertEventType, 0, len(eventTypes))
		for _, et := range eventTypes {
			if strET, ok := et.(string); ok {
				c.filters.EventTypes = append(c.filters.EventTypes, AlertEventType(strET))
			}
		}
	}

	if immediateOnly, ok := filters["immediate_only"].(bool); ok {
		c.filters.ImmediateOnly = immediateOnly
	}

	c.hub.logger.Info("subscriber filters updated",
		zap.String("client_id", c.ID.String()))
}
