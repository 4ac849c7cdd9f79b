package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"speculatoviz/internal/events"
	"speculatoviz/internal/eventsink"
	"speculatoviz/internal/logger"
	"speculatoviz/internal/speculator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // every origin is accepted; CORSMiddleware only sets response headers and does not refuse a handshake
}

// WSMessage is the client->orchestrator envelope: {"type": "start"|"stop"|"status", "payload": ...}.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartRequest is spec §6.1's start-request body, decoded from WSMessage.Payload.
type StartRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	K           int     `json:"k"`
}

// Connection wraps one client's WebSocket with the teacher's read/write pump
// discipline: a single writer goroutine draining a buffered channel, and a
// reader goroutine that only handles control frames and inbound messages,
// never writing directly to the socket itself.
type Connection struct {
	conn *websocket.Conn
	spec *speculator.Speculator

	verifyTimeout time.Duration
	eosTokenIDs   map[int]struct{}
	metricsWindow int

	send chan []byte

	mu     sync.Mutex
	cancel context.CancelFunc
}

// WebSocketHandler upgrades to a WebSocket and drives a Speculator.Run call
// per "start" message, streaming emitted events back as JSON frames.
func WebSocketHandler(spec *speculator.Speculator, verifyTimeout time.Duration, eosTokenIDs map[int]struct{}, metricsWindow int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warn("websocket upgrade failed", "error", err.Error())
			return
		}

		c := &Connection{
			conn:          conn,
			spec:          spec,
			verifyTimeout: verifyTimeout,
			eosTokenIDs:   eosTokenIDs,
			metricsWindow: metricsWindow,
			send:          make(chan []byte, 256),
		}

		activeConnections.Inc()
		go c.writePump()
		go c.readPump()
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.stopGeneration()
		activeConnections.Dec()
		c.conn.Close()
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message envelope: " + err.Error())
		return
	}

	switch msg.Type {
	case "start":
		c.handleStart(msg.Payload)
	case "stop":
		c.stopGeneration()
	case "status":
		c.sendStatus()
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Connection) handleStart(payload json.RawMessage) {
	var req StartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("invalid start request: " + err.Error())
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}
	if req.K <= 0 {
		req.K = 8
	}

	cfg := speculator.Config{
		K:             req.K,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		EOSTokenIDs:   c.eosTokenIDs,
		VerifyTimeout: c.verifyTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel() // a generation is already running on this connection; supersede it
	}
	c.cancel = cancel
	c.mu.Unlock()

	sink := eventsink.NewStaggeredSink(eventsink.NewChannelSink(256))
	go c.pumpSinkToSocket(sink.Inner.(*eventsink.ChannelSink))

	go func() {
		if err := c.spec.Run(ctx, req.Prompt, cfg, sink); err != nil {
			logger.Log.Warn("generation ended with error", "error", err.Error())
		}
	}()
}

// pumpSinkToSocket drains a ChannelSink and forwards each event as a JSON
// frame onto the write pump's send channel, decoupling the speculator's
// event production from the socket's write cadence.
func (c *Connection) pumpSinkToSocket(sink *eventsink.ChannelSink) {
	for e := range sink.Events {
		data, err := events.Encode(e)
		if err != nil {
			logger.Log.Error("failed to encode event", "error", err.Error())
			continue
		}
		select {
		case c.send <- data:
		default:
			logger.Log.Warn("dropping event: send buffer full")
		}
	}
}

func (c *Connection) stopGeneration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Connection) sendStatus() {
	c.mu.Lock()
	running := c.cancel != nil
	c.mu.Unlock()
	data, _ := json.Marshal(map[string]interface{}{
		"type":    "status",
		"running": running,
	})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Connection) sendError(message string) {
	data, _ := events.Encode(events.Error{Message: message})
	select {
	case c.send <- data:
	default:
	}
}
