// Package eventfeed re-broadcasts supervisor events as JSON frames over
// a websocket so display-layer collaborators can follow a run without
// linking against this process.
package eventfeed

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openscribe/transcriber/internal/supervisor"
)

// Feed fans supervisor events out to connected websocket subscribers.
// Subscribers joining mid-run only see events from that point on; the
// persistence document remains the source of truth for full state.
type Feed struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates an event feed.
func New(log zerolog.Logger) *Feed {
	return &Feed{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug().Err(err).Msg("event feed upgrade failed")
		return
	}

	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()
	f.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("event feed subscriber connected")

	// Drain (and discard) client frames so closes are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()
}

// Publish sends one event to every subscriber, dropping connections that
// fail to accept the write.
func (f *Feed) Publish(ev supervisor.Event) {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			f.log.Debug().Err(err).Msg("event feed subscriber write failed, dropping")
			f.drop(c)
		}
	}
}

// Close disconnects all subscribers.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		c.Close()
		delete(f.conns, c)
	}
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conns[conn]; ok {
		conn.Close()
		delete(f.conns, conn)
	}
}
