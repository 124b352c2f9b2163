package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"peer-relay/pkg/auth"
	"peer-relay/pkg/bridge"
	"peer-relay/pkg/model"
	"peer-relay/pkg/relay"
)

// StatusSource is satisfied by *relay.Service.
type StatusSource interface {
	Status(ctx context.Context) (relay.Snapshot, error)
}

// BridgeSource is satisfied by *bridge.Manager.
type BridgeSource interface {
	Statuses() []bridge.Status
}

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type Deps struct {
	Relay   StatusSource
	Bridges BridgeSource // optional
	Tokens  TokenParser  // nil leaves the status API open
	Socket  http.Handler // WebSocket endpoint
	Build   string
	Logger  *slog.Logger
}

type statusResponse struct {
	RelayName     string          `json:"relayName"`
	RelayRegion   string          `json:"relayRegion"`
	Build         string          `json:"build"`
	StartedAt     time.Time       `json:"startedAt"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
	LocalNodes    int             `json:"localNodes"`
	RemotePeers   int             `json:"remotePeers"`
	Bridges       int             `json:"bridges"`
	BridgePeers   []bridge.Status `json:"bridgePeers"`
}

type bridgesResponse struct {
	Links []model.BridgeLink `json:"links"`
	Peers []bridge.Status    `json:"peers"`
}

// RegisterRoutes wires the WebSocket endpoint and the read-only status API.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	log := d.Logger.With("component", "api")
	allowed := authFunc(d.Tokens)

	mux.Handle("/ws", d.Socket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		d.Socket.ServeHTTP(w, r)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// snapshot wraps a GET handler that needs the relay tables.
	snapshot := func(fn func(w http.ResponseWriter, snap relay.Snapshot)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !allowed(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			snap, err := d.Relay.Status(r.Context())
			if err != nil {
				log.Warn("status snapshot failed", "path", r.URL.Path, "err", err)
				http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
				return
			}
			fn(w, snap)
		}
	}

	mux.HandleFunc("/api/v1/status", snapshot(func(w http.ResponseWriter, snap relay.Snapshot) {
		writeJSON(w, log, http.StatusOK, statusResponse{
			RelayName:     snap.Name,
			RelayRegion:   snap.Region,
			Build:         d.Build,
			StartedAt:     snap.StartedAt,
			UptimeSeconds: int64(snap.Uptime / time.Second),
			LocalNodes:    len(snap.LocalNodes),
			RemotePeers:   len(snap.RemotePeers),
			Bridges:       len(snap.Links),
			BridgePeers:   bridgeStatuses(d.Bridges),
		})
	}))

	mux.HandleFunc("/api/v1/nodes", snapshot(func(w http.ResponseWriter, snap relay.Snapshot) {
		writeJSON(w, log, http.StatusOK, snap.LocalNodes)
	}))

	mux.HandleFunc("/api/v1/peers/remote", snapshot(func(w http.ResponseWriter, snap relay.Snapshot) {
		writeJSON(w, log, http.StatusOK, snap.RemotePeers)
	}))

	mux.HandleFunc("/api/v1/bridges", snapshot(func(w http.ResponseWriter, snap relay.Snapshot) {
		writeJSON(w, log, http.StatusOK, bridgesResponse{Links: snap.Links, Peers: bridgeStatuses(d.Bridges)})
	}))
}

func bridgeStatuses(src BridgeSource) []bridge.Status {
	if src == nil {
		return []bridge.Status{}
	}
	return src.Statuses()
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", "err", err)
	}
}

func authFunc(tokens TokenParser) func(r *http.Request) bool {
	if tokens == nil {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return false
		}
		_, err := tokens.Parse(strings.TrimPrefix(h, "Bearer "))
		return err == nil
	}
}
