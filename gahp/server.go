package gahp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Version is announced on startup and returned by VERSION.
const Version = "$GahpVersion: 1.0.0 Oct 17 2026 Azure\\ GAHP $"

// Control verbs handled by the server itself.
const (
	verbCommands     = "COMMANDS"
	verbVersion      = "VERSION"
	verbResults      = "RESULTS"
	verbQuit         = "QUIT"
	verbAsyncModeOn  = "ASYNC_MODE_ON"
	verbAsyncModeOff = "ASYNC_MODE_OFF"
)

const maxLineSize = 1 << 20

// Server speaks the line protocol on one input/output pair.
type Server struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger

	mu  sync.Mutex
	out *bufio.Writer
	// async is set by ASYNC_MODE_ON; notified records that "R" was written
	// since the last RESULTS.
	async    bool
	notified bool
}

// NewServer returns a Server that writes replies to out.
func NewServer(d *Dispatcher, out io.Writer, logger zerolog.Logger) *Server {
	s := &Server{dispatcher: d, logger: logger, out: bufio.NewWriter(out)}
	d.OnResult(s.resultReady)
	return s
}

// Serve announces the version and handles lines from in until QUIT, end of
// input or ctx is done.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	if err := s.write(Version); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := s.handle(line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) handle(line string) (quit bool, err error) {
	verb, _, _ := strings.Cut(line, " ")
	switch strings.ToUpper(verb) {
	case verbCommands:
		return false, s.write("S " + strings.Join(commandNames(), " "))
	case verbVersion:
		return false, s.write("S " + Version)
	case verbQuit:
		s.logger.Info().Msg("quit requested")
		return true, s.write("S")
	case verbAsyncModeOn:
		s.mu.Lock()
		s.async = true
		s.notified = false
		err := s.writeLocked("S")
		if err == nil && s.dispatcher.Pending() > 0 {
			s.notified = true
			err = s.writeLocked("R")
		}
		s.mu.Unlock()
		return false, err
	case verbAsyncModeOff:
		s.mu.Lock()
		s.async = false
		err := s.writeLocked("S")
		s.mu.Unlock()
		return false, err
	case verbResults:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.notified = false
		return false, s.writeLocked(s.dispatcher.Drain()...)
	}

	if s.dispatcher.Submit(line) {
		return false, s.write("S")
	}
	return false, s.write("E")
}

// resultReady writes a single "R" per drain cycle in async mode. Nothing is
// written when a RESULTS already took the pending lines.
func (s *Server) resultReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.async || s.notified || s.dispatcher.Pending() == 0 {
		return
	}
	s.notified = true
	if err := s.writeLocked("R"); err != nil {
		s.logger.Error().Err(err).Msg("write async notification")
	}
}

func (s *Server) write(lines ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(lines...)
}

func (s *Server) writeLocked(lines ...string) error {
	for _, l := range lines {
		if _, err := s.out.WriteString(l + "\r\n"); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	return s.out.Flush()
}

func commandNames() []string {
	names := []string{verbAsyncModeOff, verbAsyncModeOn, verbCommands, verbQuit, verbResults, verbVersion}
	for _, k := range Kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
