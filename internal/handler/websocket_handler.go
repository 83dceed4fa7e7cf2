// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/drivercfg"
	"maus-bus/internal/events"
	"maus-bus/internal/model"
	"maus-bus/internal/service"
	"maus-bus/internal/utils"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketHandler streams bus events to WebSocket clients and accepts
// device commands on per-address connections.
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	connections   *ConnectionManager
	busService    *service.BusService
	driverService *service.DriverService
	events        *events.Bus
	logger        *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins list or a "*" entry accepts any origin.
func NewWebSocketHandler(
	busService *service.BusService,
	driverService *service.DriverService,
	eventBus *events.Bus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections:   NewConnectionManager(),
		busService:    busService,
		driverService: driverService,
		events:        eventBus,
		logger:        utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set["*"] || set[origin]
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/devices/:address", h.HandleDeviceConnection)
	router.GET("/stats", h.GetConnectionStats)
}

// Run forwards bus events to connected clients until ctx is done, then
// disconnects every client.
func (h *WebSocketHandler) Run(ctx context.Context) {
	ch := h.events.Subscribe(events.All)
	defer h.connections.CloseAll()
	defer h.events.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.BroadcastEvent(e)
		}
	}
}

// BroadcastEvent delivers e to every event client subscribed to its type
// and to device clients watching the address it concerns.
func (h *WebSocketHandler) BroadcastEvent(e events.Event) {
	msg, err := json.Marshal(&WebSocketMessage{
		Type:      "event",
		Data:      e,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", string(e.Type)))
		return
	}

	address, _ := e.Data["address"].(string)
	dropped := h.connections.Broadcast(func(c *Client) bool {
		if !c.Wants(e.Type) {
			return false
		}
		if c.Type == ClientDevice {
			return c.Address != nil && *c.Address == address
		}
		return true
	}, msg)
	if dropped > 0 {
		h.logger.Warn("Client send channel full, dropping event",
			zap.String("event_type", string(e.Type)),
			zap.Int("clients", dropped),
		)
	}
}

// HandleEventConnection streams every bus event
// @Summary Event stream
// @Description Upgrade to a WebSocket that receives every bus event. Clients may narrow the stream with subscribe messages.
// @Tags WebSocket
// @Success 101 "Switching protocols"
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := h.newClient(c, conn, ClientEvents, nil)
	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleDeviceConnection streams events of one device address
// @Summary Device stream
// @Description Upgrade to a WebSocket that receives events of one device and accepts device commands
// @Tags WebSocket
// @Param address path string true "Device address"
// @Success 101 "Switching protocols"
// @Failure 400 {object} utils.APIResponse "Invalid address"
// @Router /ws/devices/{address} [get]
func (h *WebSocketHandler) HandleDeviceConnection(c *gin.Context) {
	addr, err := bus.ParseAddress(c.Param("address"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid device address", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	address := addr.String()
	client := h.newClient(c, conn, ClientDevice, &address)
	h.connections.Register(client)
	h.logger.Info("Device WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("address", address),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendInitialDeviceStatus(client, addr)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// GetConnectionStats returns connection statistics
// @Summary WebSocket statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket connections", h.connections.GetStats())
}

func (h *WebSocketHandler) newClient(c *gin.Context, conn *websocket.Conn, typ string, address *string) *Client {
	return &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        typ,
		Address:     address,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		if topic, ok := topicOf(message); ok {
			client.Subscribe(topic)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      map[string]interface{}{"topic": topic},
				Timestamp: time.Now(),
				RequestID: message.RequestID,
			})
		}
	case "unsubscribe":
		if topic, ok := topicOf(message); ok {
			client.Unsubscribe(topic)
		}
	case "device_command":
		h.handleDeviceCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

func topicOf(message *WebSocketMessage) (string, bool) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	topic, ok := data["topic"].(string)
	return topic, ok && topic != ""
}

// handleDeviceCommand handles device command messages
func (h *WebSocketHandler) handleDeviceCommand(client *Client, message *WebSocketMessage) {
	if client.Address == nil {
		h.sendError(client, "device_command only available on device connections")
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, "invalid command data")
		return
	}

	command, ok := data["command"].(string)
	if !ok {
		h.sendError(client, "command is required")
		return
	}

	addr, err := bus.ParseAddress(*client.Address)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	go h.executeDeviceCommand(client, addr, command, data, message.RequestID)
}

// executeDeviceCommand executes a device command
func (h *WebSocketHandler) executeDeviceCommand(client *Client, addr bus.Address, command string, data map[string]interface{}, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	var result interface{}

	switch command {
	case "status":
		result = h.deviceStatus(addr)

	case "register":
		var view model.InstanceView
		view, err = h.register(ctx, addr)
		result = view

	case "unregister":
		result = map[string]interface{}{"removed": h.busService.Unregister(ctx, addr)}

	case "invoke":
		result, err = h.invoke(ctx, addr, data)

	case "action":
		result, err = h.action(ctx, addr, data)

	default:
		h.sendError(client, fmt.Sprintf("unknown command: %s", command))
		return
	}

	response := map[string]interface{}{
		"command": command,
		"success": err == nil,
		"result":  result,
	}
	if err != nil {
		response["error"] = err.Error()
		response["code"] = bus.CodeOf(err).String()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      response,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func (h *WebSocketHandler) register(ctx context.Context, addr bus.Address) (model.InstanceView, error) {
	inst, err := h.busService.Register(ctx, addr)
	if err != nil {
		return model.InstanceView{}, err
	}
	cfg, _ := h.driverService.ConfigFor(addr)
	return model.NewInstanceView(inst, cfg), nil
}

// invoke runs a function of the config bound to addr
func (h *WebSocketHandler) invoke(ctx context.Context, addr bus.Address, data map[string]interface{}) (interface{}, error) {
	name, _ := data["function"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: function is required", bus.ErrFail)
	}
	cfg, ok := h.driverService.ConfigFor(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no driver bound to %s", bus.ErrNotFound, addr)
	}
	arg, err := rawField(data, "arg")
	if err != nil {
		return nil, err
	}
	return h.driverService.InvokeFunction(ctx, cfg.ID, name, arg)
}

// action runs one ad-hoc action against the config bound to addr
func (h *WebSocketHandler) action(ctx context.Context, addr bus.Address, data map[string]interface{}) (interface{}, error) {
	callee, _ := data["callee"].(string)
	if callee == "" {
		return nil, fmt.Errorf("%w: callee is required", bus.ErrFail)
	}
	cfg, ok := h.driverService.ConfigFor(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no driver bound to %s", bus.ErrNotFound, addr)
	}
	args, err := rawField(data, "args")
	if err != nil {
		return nil, err
	}
	arg, err := rawField(data, "arg")
	if err != nil {
		return nil, err
	}
	return h.driverService.InvokeAction(ctx, cfg.ID, drivercfg.Action{Callee: callee, Args: args}, arg)
}

func rawField(data map[string]interface{}, key string) (json.RawMessage, error) {
	v, ok := data[key]
	if !ok {
		return nil, nil
	}
	return json.Marshal(v)
}

func (h *WebSocketHandler) deviceStatus(addr bus.Address) map[string]interface{} {
	status := map[string]interface{}{"address": addr.String()}
	if entry, err := h.busService.Device(addr); err == nil {
		status["device"] = entry
	}
	if inst, err := h.busService.Instance(addr); err == nil {
		cfg, _ := h.driverService.ConfigFor(addr)
		status["instance"] = model.NewInstanceView(inst, cfg)
	}
	return status
}

// sendInitialDeviceStatus sends initial device status to client
func (h *WebSocketHandler) sendInitialDeviceStatus(client *Client, addr bus.Address) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      h.deviceStatus(addr),
		Timestamp: time.Now(),
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client gone or send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}
