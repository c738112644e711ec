// Command arenacheck checks a running chess-arena: status endpoints first, then a socket handshake.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/protocol"
	"github.com/park285/chess-arena/internal/statusapi"
)

func main() {
	statusURL := pflag.String("status-url", envOr("ARENA_STATUS_URL", "http://127.0.0.1:8081"), "status API base URL")
	wsURL := pflag.String("ws-url", os.Getenv("ARENA_WS_URL"), "WebSocket URL, e.g. ws://127.0.0.1:8080/ws")
	userID := pflag.String("user-id", "arenacheck", "user id announced on the socket")
	pflag.Parse()

	_ = obslog.Init(obslog.Options{Level: "info", Format: "console", Console: true})
	defer obslog.Sync()
	log := obslog.L()

	client := statusapi.NewClient(*statusURL, statusapi.WithTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := false
	if h, err := client.Health(ctx); err != nil {
		log.Error("check_health", zap.Error(err))
		failed = true
	} else {
		log.Info("check_health", zap.String("status", h.Status), zap.Int64("uptime_sec", h.UptimeSec))
	}
	if st, err := client.Stats(ctx); err != nil {
		log.Error("check_stats", zap.Error(err))
		failed = true
	} else {
		log.Info("check_stats",
			zap.Int("sessions", st.Sessions),
			zap.Int("online", st.OnlineUsers),
			zap.Int("connections", st.Connections),
			zap.String("waiting", st.WaitingUserID),
		)
	}

	if *wsURL == "" {
		log.Info("check_ws_skipped", zap.String("reason", "no --ws-url"))
	} else if err := checkSocket(ctx, *wsURL, *userID); err != nil {
		log.Error("check_ws", zap.String("url", *wsURL), zap.Error(err))
		failed = true
	} else {
		log.Info("check_ws", zap.String("url", *wsURL))
	}

	if failed {
		os.Exit(1)
	}
}

// checkSocket announces userID and waits for the acknowledgement.
func checkSocket(ctx context.Context, url, userID string) error {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "check done") }()

	hello := map[string]any{
		"type": protocol.KindUserConnected,
		"user": map[string]any{"userId": userID, "username": userID},
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if frame["type"] == protocol.KindUserConnectedReply {
			return nil
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
