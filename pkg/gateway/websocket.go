package gateway

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// handleWebSocket streams hub events to the client. Anything the client sends
// is ignored; the read loop only notices the close.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	sessionID := uuid.NewString()
	events, unsubscribe := g.hub.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())

	g.logger.Info("watch client connected", slog.String("session_id", sessionID))

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("watch client disconnected", slog.String("session_id", sessionID))
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					g.logger.Error("websocket write error", slog.String("err", err.Error()))
				}
				return
			}
		}
	}
}
