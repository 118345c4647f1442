package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/storage"
)

const (
	subscribeWriteWait = 10 * time.Second
	subscribePongWait  = 60 * time.Second
	subscribePingEvery = (subscribePongWait * 9) / 10
)

var subscribeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// snapshotMessage is pushed to the client on subscribe and after every
// change of the watched document. Value is null while the document does
// not exist.
type snapshotMessage struct {
	Type   string          `json:"type"`
	Path   string          `json:"path"`
	Exists bool            `json:"exists"`
	Value  json.RawMessage `json:"value"`
}

type watchFunc func(ctx context.Context, userID string, fn func(storage.Snapshot)) (func(), error)

func watcherFor(deps Deps, path string) (watchFunc, bool) {
	switch path {
	case "profile":
		return deps.Repo.WatchProfile, true
	case "recommendations":
		return deps.Repo.WatchRecommendations, true
	default:
		return nil, false
	}
}

// handleSubscribe streams snapshots of one of the caller's documents over
// a websocket until the client goes away.
func handleSubscribe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		watch, ok := watcherFor(deps, path)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path must be profile or recommendations")
			return
		}
		uid := UserFrom(r.Context())
		if err := apperr.RequireUser(uid, "Live updates"); err != nil {
			writeError(w, deps.Logger, err)
			return
		}

		conn, err := subscribeUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := conn.SetReadDeadline(time.Now().Add(subscribePongWait)); err != nil {
			deps.Logger.Warn("subscribe: setting read deadline", "error", err)
			return
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(subscribePongWait))
		})

		writeCh := make(chan snapshotMessage, 8)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			defer cancel()
			ticker := time.NewTicker(subscribePingEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case out := <-writeCh:
					if err := conn.SetWriteDeadline(time.Now().Add(subscribeWriteWait)); err != nil {
						return
					}
					if err := conn.WriteJSON(out); err != nil {
						return
					}
				case <-ticker.C:
					if err := conn.SetWriteDeadline(time.Now().Add(subscribeWriteWait)); err != nil {
						return
					}
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		unsubscribe, err := watch(ctx, uid, func(s storage.Snapshot) {
			msg := snapshotMessage{Type: "snapshot", Path: path, Exists: s.Exists, Value: s.Value}
			if !s.Exists {
				msg.Value = json.RawMessage("null")
			}
			select {
			case writeCh <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			deps.Logger.Error("subscribe failed", "user", uid, "path", path, "error", err)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
				time.Now().Add(subscribeWriteWait))
			cancel()
			<-writerDone
			return
		}
		defer unsubscribe()

		// Clients only send control frames; reading keeps pong handling alive
		// and notices disconnects.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()

		<-ctx.Done()
		<-writerDone
	}
}
