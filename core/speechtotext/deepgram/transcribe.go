package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/hotline-labs/hotline-core/core/audio"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
	"github.com/hotline-labs/hotline-core/internal/utils"
)

func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := &speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	connOptions := connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),

		detectSpeechStart: options.SpeechStartedCallback != nil,
		detectUtteranceEnd: options.UtteranceEndCallback != nil ||
			options.TranscriptCallback != nil,
	}

	conn, err := connectWebsocket(connOptions)
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	go s.readAndProcessMessages(ctx, conn, connOptions, *options)

	return nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string

	detectSpeechStart  bool
	detectUtteranceEnd bool
}

func connectWebsocket(options connectionOptions) (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("%w: deepgram api key not found", speechtotext.ErrProtocol)
	}

	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", "nova-3")
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("endpointing", "300")
	if options.detectUtteranceEnd {
		queryParams.Set("utterance_end_ms", "1000")
	}
	if options.detectSpeechStart || options.detectUtteranceEnd {
		queryParams.Set("vad_events", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, err
}

func (s *TranscriptionClient) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(
		struct {
			Type string `json:"type"`
		}{
			Type: "KeepAlive",
		}); err != nil {
		log.Println("Failed to write to deepgram client", "error", err)
	}
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription connection is not open")
	}

	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription connection is not open")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) StopStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		if err := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream through websocket: %w", err)
		}
	}
	return nil
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, connOptions connectionOptions, options speechtotext.TranscriptionOptions) {
	silenceCtx, silenceCancel := context.WithCancel(ctx)
	defer silenceCancel()

	go s.generateSilence(silenceCtx, options.EncodingInfo)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			if s.closed.Load() || err.Error() == "websocket: close 1000 (normal)" {
				s.connMu.Lock()
				s.conn = nil
				s.connMu.Unlock()
				return
			}

			reconnected, reconnectErr := s.reconnect(ctx, connOptions)
			if !reconnected {
				s.connMu.Lock()
				s.conn = nil
				s.connMu.Unlock()
				if options.ErrorCallback != nil {
					options.ErrorCallback(fmt.Errorf("transcription link lost: %w", reconnectErr))
				}
				return
			}

			s.connMu.Lock()
			conn = s.conn
			s.connMu.Unlock()
			continue
		}
		// Messages are processed on the reader goroutine so finals accumulate
		// in arrival order.
		if msgType != websocket.BinaryMessage {
			s.processMessage(ctx, msg, options)
		}
	}
}

// reconnect redials the listen websocket with linear backoff, up to the
// configured attempt budget.
func (s *TranscriptionClient) reconnect(ctx context.Context, connOptions connectionOptions) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.reconnectBackoff):
		}

		if s.closed.Load() {
			return false, fmt.Errorf("transcription client closed")
		}

		conn, err := connectWebsocket(connOptions)
		if err != nil {
			lastErr = err
			logger.WarnContext(ctx, "transcription reconnect attempt failed",
				"attempt", attempt, "error", err)
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		return true, nil
	}

	return false, fmt.Errorf("exhausted %d reconnect attempts: %w", s.maxReconnectAttempts, lastErr)
}

// maxMalformedStreak is how many consecutive unparseable messages the client
// tolerates before reporting the link as a protocol violation.
const maxMalformedStreak = 5

func (s *TranscriptionClient) processMessage(_ context.Context, msg []byte, options speechtotext.TranscriptionOptions) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(msg, &parsedMsg)
	if err != nil {
		s.noteMalformed(err, options)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			s.noteMalformed(err, options)
			return
		}
		s.noteWellFormed()
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		alternative := msgResp.Channel.Alternatives[0]
		transcript := strings.TrimSpace(alternative.Transcript)

		if msgResp.IsFinal {
			if len(transcript) > 0 {
				s.stateMu.Lock()
				s.accumulatedTranscript = strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
				s.stateMu.Unlock()
				if options.TranscriptCallback != nil {
					options.TranscriptCallback(speechtotext.Transcript{
						Text:       transcript,
						IsFinal:    true,
						Confidence: alternative.Confidence,
						ReceivedAt: time.Now(),
					})
				}
			}
			if msgResp.SpeechFinal {
				s.onUtteranceEnded(options)
			}
		} else if len(transcript) > 0 && options.TranscriptCallback != nil {
			s.stateMu.Lock()
			interim := strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
			s.stateMu.Unlock()
			options.TranscriptCallback(speechtotext.Transcript{
				Text:       interim,
				IsFinal:    false,
				Confidence: alternative.Confidence,
				ReceivedAt: time.Now(),
			})
		}

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			s.noteMalformed(err, options)
			return
		}
		s.noteWellFormed()

		s.stateMu.Lock()
		unended := s.unendedSegment
		s.stateMu.Unlock()
		if unended {
			s.onUtteranceEnded(options)
		}
	case api.TypeSpeechStartedResponse:
		var msgResp api.SpeechStartedResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			s.noteMalformed(err, options)
			return
		}
		s.noteWellFormed()

		s.stateMu.Lock()
		s.unendedSegment = true
		s.stateMu.Unlock()
		if options.SpeechStartedCallback != nil {
			options.SpeechStartedCallback()
		}
	default:
		s.noteWellFormed()
	}
}

func (s *TranscriptionClient) onUtteranceEnded(options speechtotext.TranscriptionOptions) {
	s.stateMu.Lock()
	s.unendedSegment = false
	s.accumulatedTranscript = ""
	s.stateMu.Unlock()
	if options.UtteranceEndCallback != nil {
		options.UtteranceEndCallback()
	}
}

// noteMalformed counts consecutive unparseable messages. A lone bad message
// is dropped with a log line; a sustained streak is reported through the
// error callback as a protocol violation.
func (s *TranscriptionClient) noteMalformed(err error, options speechtotext.TranscriptionOptions) {
	log.Println("Failed to unmarshal deepgram message", "error", err)

	s.stateMu.Lock()
	s.malformedStreak++
	streak := s.malformedStreak
	s.stateMu.Unlock()

	if streak == maxMalformedStreak && options.ErrorCallback != nil {
		options.ErrorCallback(fmt.Errorf("%w: %d consecutive unparseable messages: %w",
			speechtotext.ErrProtocol, streak, err))
	}
}

func (s *TranscriptionClient) noteWellFormed() {
	s.stateMu.Lock()
	s.malformedStreak = 0
	s.stateMu.Unlock()
}

func (s *TranscriptionClient) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const durationMs = 50
	const millisecondsPerSecond = 1000
	ticker := time.NewTicker(durationMs * time.Millisecond)

	chunk := make([]byte, encoding.SampleRate*encoding.Format.ByteSize()*durationMs/millisecondsPerSecond)
	for i := range chunk {
		chunk[i] = encoding.SilenceValue()
	}

	var state = silenceGeneratorStateWaiting
	var firstSilenceTime *time.Time
	var lastKeepAliveTime *time.Time
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			switch state {
			case silenceGeneratorStateWaiting:
				if time.Since(s.lastMsgTs).Milliseconds() > 50 {
					state = silenceGeneratorStateSilence
					firstSilenceTime = utils.Ptr(time.Now())
					continue
				}

			case silenceGeneratorStateSilence:
				if time.Since(s.lastMsgTs).Milliseconds() < 50 {
					state = silenceGeneratorStateWaiting
					firstSilenceTime = nil
					continue
				}
				if time.Since(*firstSilenceTime).Milliseconds() >= 1000 {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = utils.Ptr(time.Now())
					firstSilenceTime = nil
					continue
				}

				if err := s.sendSilence(chunk); err != nil {
					log.Println("Sending silence audio error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if time.Since(s.lastMsgTs).Milliseconds() < 50 {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(*lastKeepAliveTime).Seconds() >= 5 {
					lastKeepAliveTime = utils.Ptr(time.Now())
					s.sendKeepAlive()
				}
			}
		}
	}
}
