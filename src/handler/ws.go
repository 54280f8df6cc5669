package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/termserve/termserve/src/handler/session"
	"github.com/termserve/termserve/src/handler/ws"
	"github.com/termserve/termserve/src/lib/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WSHandler owns the WebSocket endpoint. One connection serves any number of
// session attachments; frames are JSON text messages.
type WSHandler struct {
	*BaseHandler
	registry *session.Registry
	input    *session.InputRouter
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(registry *session.Registry, input *session.InputRouter, cfg *config.Config) *WSHandler {
	return &WSHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
		input:       input,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is the fronting proxy's concern
			},
		},
	}
}

// HandleWS handles GET requests to /ws
// @Summary WebSocket endpoint
// @Description Upgrades to the session protocol: attach/detach/stdin/resize/history_loaded in, attached/stdout/session_ended/error out.
// @Tags ws
// @Success 101 {string} string "Switching protocols"
// @Router /ws [get]
func (h *WSHandler) HandleWS(c *gin.Context) {
	user := CurrentUser(c)

	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := ws.NewClient(user, sock, h.cfg.SendQueueHighWater, h.cfg.BackpressureGrace, h.detachAll)
	logrus.WithFields(logrus.Fields{
		"conn": client.ID(),
		"user": user.Username,
	}).Info("websocket connected")
	defer client.Close("connection_closed")

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}

		var msg ws.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logrus.Warnf("Invalid client message: %v", err)
			client.Send(ws.Error("", session.ErrInvalidParams.Code, "malformed message"))
			continue
		}
		h.dispatch(client, msg)
	}
}

// dispatch routes one client frame. Rejections become error frames with a
// stable code; the connection itself stays up.
func (h *WSHandler) dispatch(client *ws.Client, msg ws.ClientMessage) {
	switch msg.Type {
	case ws.TypeAttach:
		sess, err := h.registry.Get(msg.SessionID)
		if err != nil {
			h.sendErr(client, msg.SessionID, err)
			return
		}
		// The attached ack is enqueued by Attach itself, atomically with the
		// marker snapshot.
		if _, _, err := sess.Attach(client); err != nil {
			h.sendErr(client, msg.SessionID, err)
		}

	case ws.TypeDetach:
		if sess, err := h.registry.Get(msg.SessionID); err == nil {
			sess.Detach(client)
			client.Send(ws.Detached(sess.ID))
		}

	case ws.TypeDetachClient:
		sess, err := h.registry.Get(msg.SessionID)
		if err != nil {
			h.sendErr(client, msg.SessionID, err)
			return
		}
		if err := sess.DetachClient(client.User(), msg.TargetConnID); err != nil {
			h.sendErr(client, msg.SessionID, err)
		}

	case ws.TypeHistoryLoaded:
		sess, err := h.registry.Get(msg.SessionID)
		if err != nil {
			h.sendErr(client, msg.SessionID, err)
			return
		}
		// NotAttached here usually means a replay attachment already closed
		// out; a duplicate history_loaded must stay a no-op.
		if err := sess.HistoryLoaded(client); err != nil && !errors.Is(err, session.ErrNotAttached) {
			h.sendErr(client, msg.SessionID, err)
		}

	case ws.TypeStdin:
		if err := h.input.HandleStdin(client, msg.SessionID, []byte(msg.Data)); err != nil {
			h.sendErr(client, msg.SessionID, err)
		}

	case ws.TypeResize:
		h.input.HandleResize(client, msg.SessionID, msg.Cols, msg.Rows)

	case ws.TypePing:
		client.Send(ws.Pong(msg.Timestamp))

	default:
		client.Send(ws.Error("", session.ErrInvalidParams.Code, "unknown message type "+msg.Type))
	}
}

func (h *WSHandler) sendErr(client *ws.Client, sessionID string, err error) {
	client.Send(ws.Error(sessionID, session.CodeOf(err), err.Error()))
}

// detachAll runs when a connection tears down: release every attachment so
// sessions stop queueing for it. Sessions themselves are unaffected.
func (h *WSHandler) detachAll(client *ws.Client, reason string) {
	for _, id := range client.AttachedSessions() {
		if sess, err := h.registry.Get(id); err == nil {
			sess.Detach(client)
		}
	}
	logrus.WithFields(logrus.Fields{
		"conn":   client.ID(),
		"reason": reason,
	}).Info("websocket disconnected")
}
