package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/httpserver/deps"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/ws"
)

// Sync upgrades the request to a websocket and runs the session until
// the connection drops. Query parameters:
//
//	account  (required)  account whose tree to sync
//	device   (required)  stable device identifier, echoed on fan-out
//	cursor   (optional)  last revision the client persisted
func Sync(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(d.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account")
		deviceID := r.URL.Query().Get("device")
		if accountID == "" || deviceID == "" {
			http.Error(w, "account and device are required", http.StatusBadRequest)
			return
		}

		var cursor *uint64
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "cursor must be a non-negative integer", http.StatusBadRequest)
				return
			}
			cursor = &v
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			d.Logger.Warn("websocket upgrade failed", logger.Error(err))
			return
		}

		client := &domain.ClientSession{
			SessionID:   uuid.NewString(),
			AccountID:   accountID,
			DeviceID:    deviceID,
			ConnectedAt: time.Now(),
		}
		d.Registry.Register(client)
		outbox := d.Dispatcher.Attach(client.SessionID)

		d.Logger.Info("sync session opened",
			logger.String("session_id", client.SessionID),
			logger.String("account_id", accountID),
			logger.String("device_id", deviceID),
			logger.Bool("has_cursor", cursor != nil))

		sess := ws.NewSession(conn, client, cursor, outbox, ws.Deps{
			Engine:     d.Engine,
			Registry:   d.Registry,
			Dispatcher: d.Dispatcher,
			Normalizer: d.Normalizer,
			Logger:     d.Logger,
			Heartbeat:  d.HeartbeatInterval,
		})
		sess.Run(r.Context())

		d.Logger.Info("sync session closed",
			logger.String("session_id", client.SessionID),
			logger.String("account_id", accountID))
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's default: same-origin only
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients (browser extensions' background
			// workers included) often omit Origin.
			return true
		}
		if wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
