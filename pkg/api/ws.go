package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/metrics"
	"github.com/shuliakovsky/rpc-failover/pkg/registry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WS streams registry change notifications to websocket clients.
type WS struct {
	Reg    *registry.Registry
	Logger *zap.Logger
}

func NewWS(reg *registry.Registry, logger *zap.Logger) *WS {
	return &WS{Reg: reg, Logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeEvents handles GET /ws/events[?network=name].
func (w *WS) ServeEvents(rw http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")
	label := network
	if label == "" {
		label = "all"
	}
	if network != "" {
		if _, ok := w.Reg.Config(network); !ok {
			http.Error(rw, "unknown network", http.StatusNotFound)
			return
		}
	}

	events := w.Reg.Subscribe()
	defer w.Reg.Unsubscribe(events)

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Logger.Warn("ws_upgrade_failed", zap.Error(err))
		metrics.WSError.WithLabelValues(label).Inc()
		return
	}
	defer conn.Close()

	w.Logger.Info("ws_events_connected", zap.String("network", label))
	metrics.WSConnected.WithLabelValues(label).Inc()

	// reader: only needed to process pongs and notice the client leaving
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if network != "" && ev.Network != network {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				w.Logger.Warn("ws_client_write_error", zap.Error(err))
				metrics.WSError.WithLabelValues(label).Inc()
				return
			}
		}
	}
}
