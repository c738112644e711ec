// Package wsapi serves the JSON WebSocket protocol that browsers play through.
package wsapi

import (
	"context"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/presence"
)

const (
	readLimit     = 64 << 10
	detachTimeout = 10 * time.Second
)

type Deps struct {
	Hub         *presence.Hub
	Registry    *presence.Registry
	Machine     *game.Machine
	Coordinator *matchmaking.Coordinator
	Messages    *msgcat.Catalog
	// AllowedOrigins are host patterns accepted on upgrade; "*" accepts any origin.
	AllowedOrigins []string
}

type Server struct {
	hub      *presence.Hub
	registry *presence.Registry
	machine  *game.Machine
	coord    *matchmaking.Coordinator
	msgs     *msgcat.Catalog
	accept   *websocket.AcceptOptions
}

func New(d Deps) *Server {
	msgs := d.Messages
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	opts := &websocket.AcceptOptions{OriginPatterns: d.AllowedOrigins}
	if slices.Contains(d.AllowedOrigins, "*") {
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &Server{
		hub:      d.Hub,
		registry: d.Registry,
		machine:  d.Machine,
		coord:    d.Coordinator,
		msgs:     msgs,
		accept:   opts,
	}
}

// Handler routes /ws to the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)
	connID := s.hub.Attach(writer{conn: conn})
	obslog.L().Info("ws_connect", zap.String("conn_id", connID), zap.String("remote", r.RemoteAddr))

	err = s.readLoop(r.Context(), conn, connID)
	normal := websocket.CloseStatus(err) == websocket.StatusNormalClosure
	s.detach(connID, normal)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnect", zap.String("conn_id", connID), zap.Bool("normal", normal), zap.Error(err))
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.reply(connID, s.errorFrame(kindGame, errBinaryFrame, ""))
			continue
		}
		s.dispatch(ctx, connID, data)
	}
}

// detach releases everything bound to connID. A normal close only unbinds the seat; any other
// close starts the disconnect grace window.
func (s *Server) detach(connID string, normal bool) {
	s.hub.Detach(connID)
	s.registry.Unregister(connID)
	s.coord.HandleDisconnect(connID)
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	s.machine.HandleDisconnect(ctx, connID, normal)
}

func (s *Server) reply(connID string, msg any) {
	if err := s.hub.Send(connID, msg); err != nil {
		obslog.L().Debug("ws_reply_dropped", zap.String("conn_id", connID), zap.Error(err))
	}
}

type writer struct {
	conn *websocket.Conn
}

func (w writer) Write(ctx context.Context, msg any) error {
	return wsjson.Write(ctx, w.conn, msg)
}
