// Package statusapi serves health and runtime counters on a listener separate from the game socket.
package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/bot"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/presence"
)

const (
	PathHealth       = "/healthz"
	PathStats        = "/stats"
	PathDifficulties = "/bot/difficulties"
)

type Deps struct {
	Machine     *game.Machine
	Registry    *presence.Registry
	Hub         *presence.Hub
	Coordinator *matchmaking.Coordinator
	// Bot is optional.
	Bot *game.BotDriver
	Now func() time.Time
}

type Health struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptimeSec"`
}

type Stats struct {
	Sessions          int    `json:"sessions"`
	OnlineUsers       int    `json:"onlineUsers"`
	Connections       int    `json:"connections"`
	WaitingUserID     string `json:"waitingUserId,omitempty"`
	PendingChallenges int    `json:"pendingChallenges"`
	GraceTimers       int    `json:"graceTimers"`
	BotMovesPending   int    `json:"botMovesPending"`
}

type Server struct {
	d        Deps
	started  time.Time
	draining atomic.Bool
	srv      *fasthttp.Server
}

func New(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{d: d, started: d.Now()}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "chess-arena",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("status_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Drain makes /healthz report 503 so load balancers stop routing new sockets here.
func (s *Server) Drain() { s.draining.Store(true) }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case PathHealth:
		s.health(ctx)
	case PathStats:
		writeJSON(ctx, fasthttp.StatusOK, s.Snapshot())
	case PathDifficulties:
		writeJSON(ctx, fasthttp.StatusOK, bot.Difficulties())
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) health(ctx *fasthttp.RequestCtx) {
	h := Health{Status: "ok", UptimeSec: int64(s.d.Now().Sub(s.started) / time.Second)}
	code := fasthttp.StatusOK
	if s.draining.Load() {
		h.Status = "draining"
		code = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, code, h)
}

// Snapshot collects the current counters.
func (s *Server) Snapshot() Stats {
	var st Stats
	if s.d.Machine != nil {
		st.Sessions = s.d.Machine.Store().Count()
		st.GraceTimers = s.d.Machine.PendingGraceTimers()
	}
	if s.d.Registry != nil {
		st.OnlineUsers = s.d.Registry.Count()
	}
	if s.d.Hub != nil {
		st.Connections = s.d.Hub.Count()
	}
	if s.d.Coordinator != nil {
		st.WaitingUserID, _ = s.d.Coordinator.Waiting()
		st.PendingChallenges = s.d.Coordinator.PendingChallenges()
	}
	if s.d.Bot != nil {
		st.BotMovesPending = s.d.Bot.Pending()
	}
	return st
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		obslog.L().Error("status_encode_error", zap.String("path", string(ctx.Path())), zap.Error(err))
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
