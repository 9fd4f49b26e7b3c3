package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MediaStream is one room's bidirectional PCM stream over a websocket.
// Inbound frames arrive as binary messages; outbound audio is written as
// binary messages and a "clear" text message drops buffered playback on
// the far side.
type MediaStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	frames  chan []byte
	once    sync.Once
	closed  chan struct{}
}

func newMediaStream(conn *websocket.Conn) *MediaStream {
	m := &MediaStream{
		conn:   conn,
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go m.readLoop()
	return m
}

func (m *MediaStream) readLoop() {
	defer close(m.frames)
	for {
		messageType, data, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case m.frames <- data:
		case <-m.closed:
			return
		}
	}
}

// Read blocks for the next inbound PCM frame. io.EOF means the remote
// side disconnected.
func (m *MediaStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-m.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

// Write sends one outbound PCM frame.
func (m *MediaStream) Write(_ context.Context, frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Flush tells the far side to drop any buffered playback immediately.
func (m *MediaStream) Flush(_ context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"clear"}`))
}

// Close tears the stream down. Safe to call more than once.
func (m *MediaStream) Close() error {
	var err error
	m.once.Do(func() {
		close(m.closed)
		m.writeMu.Lock()
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		err = m.conn.Close()
	})
	return err
}

// MediaServer accepts room media websocket connections at /media/<room>
// and hands each stream to the call waiting on that room.
type MediaServer struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	pending map[string]chan *MediaStream
}

// NewMediaServer builds a media server.
func NewMediaServer() *MediaServer {
	return &MediaServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pending: make(map[string]chan *MediaStream),
	}
}

// Handler serves websocket upgrades for room media.
func (s *MediaServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomName := strings.TrimPrefix(r.URL.Path, "/media/")
		if roomName == "" || strings.Contains(roomName, "/") {
			http.Error(w, "missing room name", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		waiter, ok := s.pending[roomName]
		if ok {
			delete(s.pending, roomName)
		}
		s.mu.Unlock()
		if !ok {
			http.Error(w, "no call waiting for room", http.StatusNotFound)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		waiter <- newMediaStream(conn)
	})
}

// WaitForStream blocks until the room's media connection arrives.
func (s *MediaServer) WaitForStream(ctx context.Context, roomName string) (*MediaStream, error) {
	waiter := make(chan *MediaStream, 1)

	s.mu.Lock()
	if _, exists := s.pending[roomName]; exists {
		s.mu.Unlock()
		return nil, errors.New("room already has a waiter")
	}
	s.pending[roomName] = waiter
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, roomName)
		s.mu.Unlock()
		return nil, ctx.Err()
	case stream := <-waiter:
		return stream, nil
	}
}
