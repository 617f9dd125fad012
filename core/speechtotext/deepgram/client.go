package deepgram

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultMaxReconnectAttempts = 3

type TranscriptionClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	lastMsgTs time.Time

	stateMu               sync.Mutex
	accumulatedTranscript string
	unendedSegment        bool
	malformedStreak       int

	maxReconnectAttempts int
	reconnectBackoff     time.Duration

	closed atomic.Bool
}

type ClientOption func(*TranscriptionClient)

// WithMaxReconnectAttempts bounds how many times a dropped websocket is
// redialed before the link is reported as permanently failed.
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(c *TranscriptionClient) { c.maxReconnectAttempts = attempts }
}

func WithReconnectBackoff(backoff time.Duration) ClientOption {
	return func(c *TranscriptionClient) { c.reconnectBackoff = backoff }
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		reconnectBackoff:     500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (s *TranscriptionClient) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.StopStream(); err != nil {
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
