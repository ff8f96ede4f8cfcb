// Copyright 2026 The Cmdgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peg/cmdgate/internal/audit"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 64
	maxSubscribers = 128
)

// hub fans validation events out to WebSocket subscribers. Subscribers
// that cannot keep up are dropped rather than blocking validation.
type hub struct {
	mu      sync.Mutex
	clients map[chan audit.Event]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: map[chan audit.Event]struct{}{}}
}

func (h *hub) subscribe() (chan audit.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= maxSubscribers {
		return nil, false
	}
	ch := make(chan audit.Event, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan audit.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) broadcast(event audit.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Slow subscriber. Drop it.
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; browsers are not the expected client.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams every validation
// decision as a JSON audit event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}

	ch, ok := s.hub.subscribe()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "too many event subscribers")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.unsubscribe(ch)
		s.logger.Warn("daemon: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer s.hub.unsubscribe(ch)

	// Reader goroutine: we never expect client messages, but reading is
	// required to process close frames and detect disconnects.
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
		case <-done:
			return
		case event, open := <-ch:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
