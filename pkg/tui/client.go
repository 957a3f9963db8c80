package tui

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/igorsilveira/codebot/pkg/notify"
)

// Stream reads gateway events from the /ws endpoint.
type Stream struct {
	conn *websocket.Conn
}

// Dial connects to the gateway at baseURL (http or https).
func Dial(ctx context.Context, baseURL, token string) (*Stream, error) {
	u := strings.TrimRight(baseURL, "/") + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	var opts websocket.DialOptions
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, u, &opts)
	if err != nil {
		return nil, fmt.Errorf("tui: connecting to %s: %w", u, err)
	}
	conn.SetReadLimit(4 << 20)
	return &Stream{conn: conn}, nil
}

func (s *Stream) Next(ctx context.Context) (notify.Event, error) {
	var ev notify.Event
	err := wsjson.Read(ctx, s.conn, &ev)
	return ev, err
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
