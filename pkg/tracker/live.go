package tracker

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kylerisse/laeuft/pkg/incident"
)

const (
	livePushInterval = 15 * time.Second
	liveWriteTimeout = 5 * time.Second
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// liveEvent is one frame on the live socket. Status frames carry the
// full snapshot; event frames carry the incident event that just
// happened.
type liveEvent struct {
	Type   string          `json:"type"`
	Status *StatusResponse `json:"status,omitempty"`
	Event  *incident.Event `json:"event,omitempty"`
}

// hub fans events out to every connected live socket.
type hub struct {
	mu    sync.Mutex
	conns map[chan liveEvent]bool
}

func newHub() *hub {
	return &hub{conns: make(map[chan liveEvent]bool)}
}

func (h *hub) subscribe() chan liveEvent {
	ch := make(chan liveEvent, 8)
	h.mu.Lock()
	h.conns[ch] = true
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan liveEvent) {
	h.mu.Lock()
	delete(h.conns, ch)
	h.mu.Unlock()
}

// broadcast never blocks; a client that cannot keep up loses frames
// and catches up on the next periodic status push.
func (h *hub) broadcast(ev liveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.conns {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *Tracker) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debugf("live upgrade failed: %v", err)
		return
	}
	t.serveLive(conn)
}

func (t *Tracker) serveLive(conn *websocket.Conn) {
	defer conn.Close()

	ch := t.hub.subscribe()
	defer t.hub.unsubscribe(ch)

	snap := t.status(time.Now())
	if err := writeLive(conn, liveEvent{Type: "status", Status: &snap}); err != nil {
		return
	}

	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			snap := t.status(time.Now())
			if err := writeLive(conn, liveEvent{Type: "status", Status: &snap}); err != nil {
				return
			}
		case ev := <-ch:
			if err := writeLive(conn, ev); err != nil {
				return
			}
		case <-done:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

func writeLive(conn *websocket.Conn, ev liveEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(ev)
}
