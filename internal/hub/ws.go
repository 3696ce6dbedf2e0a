package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"usbscope/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Control is a client-to-server message on the websocket.
type Control struct {
	Action    string `json:"action"`
	VendorID  string `json:"vendor_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"port_path,omitempty"`
}

// ControlHandler processes one control message and returns the events to
// deliver back to the sender (broadcast side effects go through Publish).
type ControlHandler func(ctx context.Context, msg Control) []domain.Event

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// The server binds to localhost by default and carries no
		// credentials worth stealing; viewers connect from file:// and
		// dev-server origins alike.
		return true
	},
}

// ServeWS upgrades the request, subscribes the client, and pumps events
// until either side hangs up. Incoming control messages are dispatched to
// handler; its reply events go only to this client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, handler ControlHandler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id, events := h.Subscribe()
	defer h.Unsubscribe(id)
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, conn, id, events, cancel)
	h.readPump(ctx, conn, id, handler)
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, id string, events <-chan domain.Event, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == domain.EventResync {
				h.markerDelivered(id)
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("client", id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, id string, handler ControlHandler) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Control
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client", id).Msg("websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if handler == nil || msg.Action == "" {
			continue
		}

		for _, ev := range handler(ctx, msg) {
			h.Send(id, ev)
		}
	}
}
