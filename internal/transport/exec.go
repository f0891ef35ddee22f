package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxedlabs/voxed/internal/config"
)

// execTransport spawns the recognizer CLI and frames its stdout into lines.
type execTransport struct {
	cmd []string
	log *slog.Logger
}

// NewExec builds a transport around the configured recognizer command.
func NewExec(cfg config.TransportConfig, log *slog.Logger) (Transport, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transport command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transport command is empty")
	}
	return &execTransport{cmd: args, log: log.With(slog.String("component", "exec-transport"))}, nil
}

func (t *execTransport) Start(ctx context.Context, h Handler) (Session, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognizer stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognizer stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognizer: %w", err)
	}

	s := &execSession{cancel: cancel}
	s.wg.Add(2)
	go s.drainStderr(t.log, stderr)
	go s.readLoop(t.log, stdout, h, cmd)

	return s, nil
}

type execSession struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *execSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
	})
	s.wg.Wait()
	return nil
}

func (s *execSession) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *execSession) drainStderr(log *slog.Logger, r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug("recognizer stderr", slog.String("line", scanner.Text()))
	}
}

func (s *execSession) readLoop(log *slog.Logger, r io.Reader, h Handler, cmd *exec.Cmd) {
	defer s.wg.Done()

	var framer LineFramer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				dispatchLine(log, line, h)
			}
		}
		if err != nil {
			waitErr := cmd.Wait()
			if s.wasClosed() {
				h.HandleClosed(nil)
				return
			}
			if waitErr != nil {
				h.HandleClosed(fmt.Errorf("recognizer exited: %w", waitErr))
			} else if err != io.EOF {
				h.HandleClosed(fmt.Errorf("read recognizer output: %w", err))
			} else {
				h.HandleClosed(fmt.Errorf("recognizer output closed"))
			}
			return
		}
	}
}

func dispatchLine(log *slog.Logger, line string, h Handler) {
	ev, kind, err := ParseLine(line)
	if err != nil {
		log.Warn("dropped malformed payload line", slog.String("error", err.Error()))
		countDropped()
		return
	}
	switch kind {
	case LineReady:
		h.HandleReady()
	case LineEvent:
		h.HandleEvent(ev)
	}
}
