package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/events"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 512
	sendBufSize = 256
	catchUp     = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only stream
	},
}

// Frame types sent over the stream.
const (
	FrameConnected = "connected"
	FrameDay       = "day"
	FrameEvent     = "event"
)

// Frame is the envelope for every stream message.
type Frame struct {
	Type string `json:"type"`
	Day  int    `json:"day"`
	Data any    `json:"data,omitempty"`
}

// FeedEntry is one event in the in-memory feed.
type FeedEntry struct {
	Seq     int64  `json:"seq"`
	Day     int    `json:"day"`
	Tag     string `json:"tag"`
	Line    string `json:"line"`
	Summary string `json:"summary"`
}

// Feed keeps the most recent events for polling clients and stream catch-up.
type Feed struct {
	mu      sync.RWMutex
	entries []FeedEntry
	limit   int
	next    int64
}

// NewFeed keeps up to limit entries.
func NewFeed(limit int) *Feed {
	if limit < 1 {
		limit = 1
	}
	return &Feed{limit: limit, next: 1}
}

// Append records the events of one day and returns the new entries.
func (f *Feed) Append(day int, evs []events.Event) []FeedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := make([]FeedEntry, 0, len(evs))
	for _, e := range evs {
		line, err := events.Encode(e)
		if err != nil {
			log.Warn().Err(err).Str("tag", e.Tag()).Msg("dropping unencodable event")
			continue
		}
		entry := FeedEntry{Seq: f.next, Day: day, Tag: e.Tag(), Line: line, Summary: e.Summary()}
		f.next++
		added = append(added, entry)
	}
	f.entries = append(f.entries, added...)
	if over := len(f.entries) - f.limit; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
	return added
}

// Since returns up to limit entries with Seq greater than seq, oldest first.
func (f *Feed) Since(seq int64, limit int) []FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]FeedEntry, 0)
	for _, e := range f.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of entries held.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// wsConn wraps a WebSocket connection with its outbound queue.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// Hub tracks stream connections and fans frames out to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[*wsConn]bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[*wsConn]bool)}
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connections[c] {
		delete(h.connections, c)
		close(c.send)
	}
}

// Broadcast sends a frame to every connection. Slow clients miss frames
// rather than stall the simulation.
func (h *Hub) Broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("type", f.Type).Msg("failed to marshal stream frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("addr", c.addr).Msg("dropping stream frame, buffer full")
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.connections {
		delete(h.connections, c)
		close(c.send)
	}
}

// serveWS upgrades the request, sends a catch-up of recent events and
// then streams frames until the client goes away.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, day int, recent []FeedEntry) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{conn: conn, send: make(chan []byte, sendBufSize), addr: clientIP(r)}
	welcome, _ := json.Marshal(Frame{Type: FrameConnected, Day: day})
	c.send <- welcome
	for _, e := range recent {
		if len(c.send) == cap(c.send) {
			break
		}
		frame, _ := json.Marshal(Frame{Type: FrameEvent, Day: e.Day, Data: e})
		c.send <- frame
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)

	log.Info().Str("addr", c.addr).Int("total", h.ConnectionCount()).Msg("stream client connected")
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *wsConn) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		log.Info().Str("addr", c.addr).Msg("stream client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("addr", c.addr).Msg("stream unexpected close")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
