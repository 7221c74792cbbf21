package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ControlMessage is the JSON text message carrying a control transfer.
// Replies reuse it with Setup echoed and Data holding the IN stage.
type ControlMessage struct {
	Setup Setup  `json:"setup"`
	Data  []byte `json:"data,omitempty"`
}

// WebSocketLink serves a Port over WebSocket. One host is attached at a
// time. Binary messages carry bulk packets; text messages carry control
// transfers as ControlMessage JSON.
type WebSocketLink struct {
	port     Port
	log      zerolog.Logger
	upgrader websocket.Upgrader
	busy     atomic.Bool
}

// NewWebSocketLink returns an http.Handler attaching hosts to port.
func NewWebSocketLink(port Port, log zerolog.Logger) *WebSocketLink {
	return &WebSocketLink{
		port: port,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  PacketSize * 4,
			WriteBufferSize: PacketSize * 4,
		},
	}
}

func (l *WebSocketLink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.busy.CompareAndSwap(false, true) {
		http.Error(w, "cable in use", http.StatusConflict)
		return
	}
	defer l.busy.Store(false)

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	l.log.Info().Str("remote", r.RemoteAddr).Msg("host attached")
	if err := l.serve(r.Context(), conn); err != nil {
		l.log.Warn().Err(err).Msg("host link ended")
	}
	l.log.Info().Str("remote", r.RemoteAddr).Msg("host detached")
}

func (l *WebSocketLink) serve(ctx context.Context, conn *websocket.Conn) error {
	host := attachHost(ctx, l.port)
	defer host.End()
	ctx = host.ctx

	fifo := l.port.FIFO()
	replies := make(chan ControlMessage, 1)
	errc := make(chan error, 1)

	go func() {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			switch kind {
			case websocket.BinaryMessage:
				for len(data) > 0 {
					n := min(len(data), PacketSize)
					if err := host.Receive(data[:n]); err != nil {
						errc <- err
						return
					}
					data = data[n:]
				}
			case websocket.TextMessage:
				var msg ControlMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					l.log.Warn().Err(err).Msg("bad control message")
					continue
				}
				msg.Data = l.port.Control(msg.Setup, msg.Data)
				select {
				case replies <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		case pkt := <-fifo.Transmit():
			if err := conn.WriteMessage(websocket.BinaryMessage, pkt); err != nil {
				return err
			}
		case msg := <-replies:
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}
