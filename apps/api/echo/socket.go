package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/services/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096
	sendBuffer   = 64

	eventJoinClass  = "join_class"
	eventLeaveClass = "leave_class"
	eventError      = "error"
)

type socketApi struct {
	conf     *core.Config
	hub      *events.Hub
	metrics  ConnectionMetrics
	logger   core.Logger
	upgrader websocket.Upgrader
}

func registerSocketAPI(g *echo.Group, conf *core.Config, hub *events.Hub, metrics ConnectionMetrics, logger core.Logger) {
	api := socketApi{
		conf:    conf,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	g.GET("/ws", api.connect)
}

// connect verifies the token, upgrades the request and serves the connection until it closes.
func (api *socketApi) connect(ctx echo.Context) error {
	token := tokenFromRequest(ctx)
	if token == "" {
		return errUnauthorized
	}
	claims, err := ParseToken(api.conf, token)
	if err != nil {
		return err
	}
	actor, err := claims.Actor()
	if err != nil {
		return err
	}

	ws, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		api.logger.Debug(fmt.Sprintf("websocket upgrade failed: %v", err))
		return nil
	}

	conn := newConnection(ws, actor, api.hub, api.logger)
	if api.metrics != nil {
		api.metrics.ConnectionOpened()
		defer api.metrics.ConnectionClosed()
	}
	api.logger.Debug(fmt.Sprintf("connection %s opened", conn.id), actor)

	go conn.writePump()
	conn.readPump()

	api.logger.Debug(fmt.Sprintf("connection %s closed", conn.id), actor)
	return nil
}

// clientFrame is a frame sent by the client, e.g. {"event":"join_class","data":7}.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// connection is one WebSocket client. It is an events.Subscriber.
type connection struct {
	id     string
	actor  core.Actor
	ws     *websocket.Conn
	hub    *events.Hub
	logger core.Logger

	send      chan events.Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ events.Subscriber = (*connection)(nil)

func newConnection(ws *websocket.Conn, actor core.Actor, hub *events.Hub, logger core.Logger) *connection {
	return &connection{
		id:     uuid.New().String(),
		actor:  actor,
		ws:     ws,
		hub:    hub,
		logger: logger,
		send:   make(chan events.Message, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *connection) ID() string {
	return c.id
}

// Deliver queues msg for the writer. A client whose buffer is full gets disconnected.
func (c *connection) Deliver(msg events.Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.logger.Warn(fmt.Sprintf("connection %s too slow, dropping it", c.id), c.actor)
		c.close()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump handles client frames until the connection fails, then drops its subscriptions.
func (c *connection) readPump() {
	defer func() {
		c.hub.LeaveAll(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug(fmt.Sprintf("connection %s read error: %v", c.id, err))
			}
			return
		}
		c.handle(data)
	}
}

func (c *connection) handle(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.replyError("malformed frame")
		return
	}

	switch frame.Event {
	case eventJoinClass:
		classID, ok := parseClassID(frame.Data)
		if !ok {
			c.replyError("invalid class id")
			return
		}
		if err := c.hub.Join(c, classID); err != nil {
			c.logger.Error(fmt.Sprintf("connection %s joining class %d", c.id, classID), err, c.actor)
			c.replyError("could not join class")
		}
	case eventLeaveClass:
		classID, ok := parseClassID(frame.Data)
		if !ok {
			c.replyError("invalid class id")
			return
		}
		c.hub.Leave(c, classID)
	default:
		c.replyError(fmt.Sprintf("unknown event %q", frame.Event))
	}
}

func (c *connection) replyError(msg string) {
	c.Deliver(events.Message{Event: eventError, Data: msg})
}

// writePump is the only writer of the connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

// parseClassID accepts a positive number or a numeric string.
func parseClassID(raw json.RawMessage) (int64, bool) {
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		var s string
		if err = json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if id, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			return 0, false
		}
	}
	return id, id > 0
}
