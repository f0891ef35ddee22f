package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/nats-io/nats.go"

	"github.com/voxedlabs/voxed/internal/bus"
	"github.com/voxedlabs/voxed/internal/config"
	"github.com/voxedlabs/voxed/internal/protocol"
)

const deepgramEndpoint = "wss://api.deepgram.com/v1/listen"

// deepgramTransport holds a Deepgram streaming session. Audio reaches the
// socket as PCM frames relayed from the bus; recognition results come back
// as the same JSON shape the exec transport parses from stdout.
type deepgramTransport struct {
	cfg config.TransportConfig
	bus *bus.Client
	log *slog.Logger
}

// NewDeepgram builds a transport against the Deepgram streaming API.
func NewDeepgram(cfg config.TransportConfig, busClient *bus.Client, log *slog.Logger) (Transport, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram transport requires an api key")
	}
	return &deepgramTransport{
		cfg: cfg,
		bus: busClient,
		log: log.With(slog.String("component", "deepgram-transport")),
	}, nil
}

func (t *deepgramTransport) Start(ctx context.Context, h Handler) (Session, error) {
	endpoint, err := t.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	ctx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	s := &deepgramSession{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		log:    t.log,
	}

	sub, err := t.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub

	// The socket accepts audio as soon as the dial completes.
	h.HandleReady()

	s.wg.Add(1)
	go s.readLoop(h)

	return s, nil
}

func (t *deepgramTransport) buildURL() (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	model := t.cfg.Model
	if model == "" {
		model = "nova-3"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if t.cfg.Language != "" {
		q.Set("language", t.cfg.Language)
	}
	if t.cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRate))
	}
	if t.cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(t.cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	log    *slog.Logger

	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// deepgramResult is the streaming API's Results message.
type deepgramResult struct {
	Type        string  `json:"type"`
	Start       float64 `json:"start"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if len(frame.PCM) > 0 {
		if err := s.conn.Write(s.ctx, websocket.MessageBinary, frame.PCM); err != nil {
			s.log.Warn("failed to forward audio frame", slog.String("error", err.Error()))
			return
		}
	}
	if frame.Final {
		if err := s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`)); err != nil {
			s.log.Warn("failed to send finalize", slog.String("error", err.Error()))
		}
	}
}

func (s *deepgramSession) readLoop(h Handler) {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.wasClosed() {
				h.HandleClosed(nil)
				return
			}
			h.HandleClosed(fmt.Errorf("deepgram read: %w", err))
			return
		}

		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			s.log.Warn("dropped malformed deepgram message", slog.String("error", err.Error()))
			countDropped()
			continue
		}
		if res.Type != "Results" {
			continue
		}
		transcript := ""
		if len(res.Channel.Alternatives) > 0 {
			transcript = res.Channel.Alternatives[0].Transcript
		}
		h.HandleEvent(RecognitionEvent{
			UtteranceStart: res.Start,
			IsFinal:        res.IsFinal,
			SpeechFinal:    res.SpeechFinal,
			Transcript:     transcript,
		})
	}
}

func (s *deepgramSession) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *deepgramSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.sub != nil {
			_ = s.sub.Drain()
		}
		_ = s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	s.wg.Wait()
	return nil
}
