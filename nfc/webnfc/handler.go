package webnfc

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/closet-nfc/protocol"
)

// Handler upgrades device connections and runs the per-device message loop.
type Handler struct {
	manager    *Manager
	upgrader   websocket.Upgrader
	serverInfo protocol.ServerInfo
	logger     *log.Logger
}

// NewHandler creates a device socket handler. A nil checkOrigin allows all origins.
func NewHandler(manager *Manager, info protocol.ServerInfo, checkOrigin func(r *http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		manager:    manager,
		serverInfo: info,
		logger:     manager.logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

// ServeHTTP handles a WebSocket connection from a Web NFC page.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	h.logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	device, err := h.register(conn)
	if err != nil {
		h.logger.Printf("Registration failed: %v", err)
		conn.Close()
		return
	}
	defer func() {
		if err := h.manager.Unregister(device.ID()); err != nil {
			// Already removed by cleanup or manager shutdown.
			device.Close()
		}
		h.logger.Printf("WebSocket disconnected: %s", device.ID())
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(message, &req); err != nil {
			h.logger.Printf("Failed to parse message from %s: %v", device, err)
			h.replyError(device.writeFrame, "", protocol.CodeParseError, "Invalid message format")
			continue
		}
		if err := h.dispatch(device, req); err != nil {
			h.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}

func (h *Handler) register(conn *websocket.Conn) (*Device, error) {
	messageType, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read registration message: %w", err)
	}
	if messageType != websocket.TextMessage {
		h.replyError(conn.WriteJSON, "", protocol.CodeInvalidMessageType, "Expected text message")
		return nil, fmt.Errorf("expected text message, got type %d", messageType)
	}

	var req protocol.Request
	if err := json.Unmarshal(message, &req); err != nil {
		h.replyError(conn.WriteJSON, "", protocol.CodeParseError, "Invalid message format")
		return nil, fmt.Errorf("parse registration message: %w", err)
	}
	if req.Type != protocol.TypeRegisterDevice {
		h.replyError(conn.WriteJSON, req.ID, protocol.CodeInvalidMessageType,
			fmt.Sprintf("Expected '%s' message", protocol.TypeRegisterDevice))
		return nil, fmt.Errorf("expected '%s', got '%s'", protocol.TypeRegisterDevice, req.Type)
	}

	var regReq protocol.DeviceRegistrationRequest
	if err := req.Decode(&regReq); err != nil {
		h.replyError(conn.WriteJSON, req.ID, protocol.CodeInvalidPayload, "Invalid registration request format")
		return nil, fmt.Errorf("parse registration request: %w", err)
	}

	device, err := h.manager.Register(conn, regReq)
	if err != nil {
		h.replyError(conn.WriteJSON, req.ID, protocol.CodeInvalidRequest, err.Error())
		return nil, err
	}

	resp := protocol.Response{
		ID:      req.ID,
		Type:    protocol.TypeRegisterDeviceResponse,
		Success: true,
		Payload: protocol.DeviceRegistrationResponse{
			DeviceID:   device.ID(),
			ServerInfo: h.serverInfo,
		},
	}
	if err := device.writeFrame(resp); err != nil {
		h.manager.Unregister(device.ID())
		return nil, fmt.Errorf("send registration response: %w", err)
	}
	return device, nil
}

func (h *Handler) dispatch(device *Device, req protocol.Request) error {
	now := h.manager.now()

	switch req.Type {
	case protocol.TypeReading:
		var reading protocol.Reading
		if err := req.Decode(&reading); err != nil {
			h.replyError(device.writeFrame, req.ID, protocol.CodeInvalidPayload, "Invalid reading format")
			return err
		}
		return device.HandleReading(reading, now)

	case protocol.TypeReadingError:
		var re protocol.ReadingError
		if err := req.Decode(&re); err != nil {
			h.replyError(device.writeFrame, req.ID, protocol.CodeInvalidPayload, "Invalid reading error format")
			return err
		}
		device.HandleReadingError(re, now)
		return nil

	case protocol.TypeWriteResponse:
		var resp protocol.WriteResponse
		if err := req.Decode(&resp); err != nil {
			h.replyError(device.writeFrame, req.ID, protocol.CodeInvalidPayload, "Invalid write response format")
			return err
		}
		return device.HandleWriteResponse(resp, now)

	case protocol.TypeDeviceHeartbeat:
		device.touch(now)
		return nil

	default:
		h.replyError(device.writeFrame, req.ID, protocol.CodeUnknownType,
			fmt.Sprintf("Unknown message type: %s", req.Type))
		return fmt.Errorf("unknown message type: %s", req.Type)
	}
}

// replyError sends an error frame through write.
func (h *Handler) replyError(write func(v any) error, requestID, code, message string) {
	resp := protocol.Response{
		ID:      requestID,
		Type:    protocol.TypeError,
		Success: false,
		Error:   message,
		Payload: protocol.ErrorPayload{Code: code},
	}
	if err := write(resp); err != nil {
		h.logger.Printf("Failed to send error response: %v", err)
	}
}

// IsDeviceConnection determines if a request is from a Web NFC page.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == "true" {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}
