package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"colladoc/internal/access"
	"colladoc/internal/coalesce"
	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 2 << 20
	flushTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Documents is what a live viewer needs from the document service.
type Documents interface {
	OpenDocument(ctx context.Context, docID, actorID string) (model.Document, access.Capability, error)
	CommitDocument(ctx context.Context, docID, actorID, title string, content json.RawMessage) (model.Document, error)
}

// Gateway upgrades viewers of a document to websocket connections.
type Gateway struct {
	Hub   *Hub
	Docs  Documents
	Quiet time.Duration
}

type updatePayload struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	docID      string
	userID     string
	capability access.Capability
	sub        *Subscription
	floor      int64 // revision of the initial state; older events are stale
	coalescer  *coalesce.Coalescer
	direct     chan []byte
}

// ServeWs authorizes the viewer before upgrading, so an unauthorized actor
// gets a plain HTTP error and never joins the room.
func (g *Gateway) ServeWs(w http.ResponseWriter, r *http.Request, userID string) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	if _, _, err := g.Docs.OpenDocument(r.Context(), docID, userID); err != nil {
		rejectViewer(w, docID, err)
		return
	}

	// Join before loading the state that is sent first: every commit after
	// the load is then buffered on the subscription, and the ones the load
	// already includes are skipped by the write pump.
	sub := g.Hub.subscribe(docID, userID, 0, true)
	doc, capability, err := g.Docs.OpenDocument(r.Context(), docID, userID)
	if err != nil {
		sub.Cancel()
		rejectViewer(w, docID, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		sub.Cancel()
		return
	}

	client := &Client{
		hub:        g.Hub,
		conn:       conn,
		docID:      docID,
		userID:     userID,
		capability: capability,
		sub:        sub,
		floor:      doc.Revision,
		direct:     make(chan []byte, 16),
	}
	client.coalescer = coalesce.New(g.Quiet, func(ctx context.Context, title string, content json.RawMessage) error {
		saved, err := g.Docs.CommitDocument(ctx, docID, userID, title, content)
		if err != nil {
			return err
		}
		client.sendDirect(SavedType, map[string]any{"revision": saved.Revision, "updated_at": saved.UpdatedAt})
		return nil
	}, func(err error) {
		client.sendError(err)
	})

	initial := []any{
		model.CommitEvent{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Content:    doc.Content,
			ActorID:    doc.UpdatedBy,
			Revision:   doc.Revision,
			UpdatedAt:  doc.UpdatedAt,
		},
		map[string]string{"title": doc.Title, "capability": capability.String()},
	}
	for i, msgType := range []string{UpdateType, MetadataType} {
		if err := client.write(websocket.TextMessage, client.encode(msgType, initial[i])); err != nil {
			client.sub.Cancel()
			conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := c.coalescer.Close(ctx); err != nil {
			logger.Sugar.Errorf("Failed to flush pending edit of %s on doc %s: %v", c.userID, c.docID, err)
		}
		cancel()
		c.sub.Cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}
		// Server-authoritative fields, so a client cannot speak for others.
		msg.DocID = c.docID
		msg.UserID = c.userID

		switch msg.Type {
		case UpdateType:
			if !c.capability.Allows(access.Write) {
				logger.Sugar.Warnf("Permission Denied: User %s (capability: %s) tried to edit doc %s", c.userID, c.capability, c.docID)
				c.sendError(apperror.ErrForbidden)
				continue
			}
			var update updatePayload
			if err := json.Unmarshal(msg.Payload, &update); err != nil || len(update.Content) == 0 || string(update.Content) == "null" {
				c.sendError(apperror.Invalid("content cannot be empty"))
				continue
			}
			c.coalescer.Edit(update.Title, update.Content)
		case CursorType:
			c.hub.Notify(c.docID, c.userID, CursorType, msg.Payload)
		default:
			logger.Sugar.Debugf("Ignoring message type %q from %s", msg.Type, c.userID)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if ev.Revision != 0 && ev.Revision <= c.floor {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling commit event: %v", err)
				continue
			}
			msg, _ := json.Marshal(WSMessage{Type: UpdateType, DocID: ev.DocumentID, UserID: ev.ActorID, Payload: payload})
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case message, ok := <-c.sub.Notices():
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case message := <-c.direct:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func rejectViewer(w http.ResponseWriter, docID string, err error) {
	appErr := apperror.From(err)
	logger.Sugar.Warnf("Connection rejected for doc %s: %v", docID, err)
	http.Error(w, appErr.Message, appErr.Kind.HTTPStatus())
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) encode(msgType string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s message: %v", msgType, err)
		return nil
	}
	msg, _ := json.Marshal(WSMessage{Type: msgType, DocID: c.docID, UserID: c.userID, Payload: raw})
	return msg
}

func (c *Client) sendDirect(msgType string, payload any) {
	msg := c.encode(msgType, payload)
	if msg == nil {
		return
	}
	select {
	case c.direct <- msg:
	default:
		logger.Sugar.Warnf("Client %s's direct buffer is full, dropping %s.", c.userID, msgType)
	}
}

func (c *Client) sendError(err error) {
	appErr := apperror.From(err)
	c.sendDirect(ErrorType, model.ErrorResponse{Code: string(appErr.Kind), Error: appErr.Message})
}
