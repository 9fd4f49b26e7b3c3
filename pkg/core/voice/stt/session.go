package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// wsSession is the WebSocket plumbing shared by all streaming providers.
// Providers differ only in how they frame outgoing audio, which control
// messages they speak, and how incoming messages parse into deltas.
type wsSession struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	// handle parses one incoming message. emit=false drops the message;
	// stop=true ends the read loop.
	handle func(data []byte) (delta TranscriptDelta, emit bool, stop bool)

	// frameAudio converts raw audio to an outgoing message. messageType is a
	// gorilla/websocket message type.
	frameAudio func(data []byte) (messageType int, payload []byte, err error)

	finalizeMsg []byte // text control message forcing a final transcript
	closeMsg    []byte // optional text control message sent before close
}

func newWSSession(ctx context.Context, conn *websocket.Conn) *wsSession {
	ctx, cancel := context.WithCancel(ctx)
	return &wsSession{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		frameAudio: func(data []byte) (int, []byte, error) {
			return websocket.BinaryMessage, data, nil
		},
	}
}

// start launches the read loop. Called once the provider has populated the
// handler fields.
func (s *wsSession) start() {
	go s.readLoop()
}

func (s *wsSession) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		delta, emit, stop := s.handle(data)
		if emit {
			select {
			case s.transcripts <- delta:
			case <-s.ctx.Done():
				return
			}
		}
		if stop {
			return
		}
	}
}

// SendAudio sends audio in the format given at session creation.
func (s *wsSession) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	messageType, payload, err := s.frameAudio(data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}

// Finalize flushes buffered audio and forces a final transcript. The session
// stays open for the next utterance.
func (s *wsSession) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	if s.finalizeMsg == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, s.finalizeMsg)
}

// Transcripts returns the channel of transcript deltas.
func (s *wsSession) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done returns a channel closed when the session ends.
func (s *wsSession) Done() <-chan struct{} {
	return s.done
}

// Close tears down the session. Safe to call more than once.
func (s *wsSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	if s.closeMsg != nil {
		s.conn.WriteMessage(websocket.TextMessage, s.closeMsg)
	}
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
