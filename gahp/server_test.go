package gahp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session drives a Server over pipes.
type session struct {
	t    *testing.T
	d    *Dispatcher
	in   *io.PipeWriter
	out  *bufio.Reader
	done chan error
}

func startSession(t *testing.T, r Runner) *session {
	t.Helper()
	d := NewDispatcher(r, Config{Workers: 2}, nil, zerolog.Nop())
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := NewServer(d, outW, zerolog.Nop())

	s := &session{t: t, d: d, in: inW, out: bufio.NewReader(outR), done: make(chan error, 1)}
	go func() {
		s.done <- srv.Serve(context.Background(), inR)
		outW.Close()
	}()
	t.Cleanup(func() {
		inW.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	assert.Equal(t, Version, s.read())
	return s
}

func (s *session) send(line string) {
	s.t.Helper()
	_, err := fmt.Fprintf(s.in, "%s\r\n", line)
	require.NoError(s.t, err)
}

func (s *session) read() string {
	s.t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.out.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case r := <-ch:
		require.NoError(s.t, r.err)
		require.True(s.t, strings.HasSuffix(r.line, "\r\n"), "reply %q lacks CRLF", r.line)
		return strings.TrimSuffix(r.line, "\r\n")
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for reply")
		return ""
	}
}

func TestServeControlVerbs(t *testing.T) {
	s := startSession(t, &stubRunner{})

	s.send("VERSION")
	assert.Equal(t, "S "+Version, s.read())

	s.send("commands")
	reply := s.read()
	assert.True(t, strings.HasPrefix(reply, "S "))
	for _, want := range []string{"AZURE_PING", "AZURE_VMSS_SCALE", "RESULTS", "QUIT", "ASYNC_MODE_ON"} {
		assert.Contains(t, strings.Fields(reply), want)
	}

	s.send("RESULTS")
	assert.Equal(t, "S 0", s.read())

	s.send("QUIT")
	assert.Equal(t, "S", s.read())
	assert.NoError(t, <-s.done)
}

func TestServeSubmitAndResults(t *testing.T) {
	r := &stubRunner{gate: make(chan struct{}), started: make(chan string, 1)}
	s := startSession(t, r)

	s.send(ping("req1"))
	assert.Equal(t, "S", s.read())
	s.send("AZURE_BOGUS req2 /tmp/creds sub1")
	assert.Equal(t, "E", s.read())
	s.send("AZURE_VM_DELETE req3 /tmp/creds sub1")
	assert.Equal(t, "E", s.read())

	<-r.started
	s.send("RESULTS")
	assert.Equal(t, "S 0", s.read())

	close(r.gate)
	require.Eventually(t, func() bool { return r.callCount() == 1 }, 5*time.Second, time.Millisecond)
	var lines []string
	require.Eventually(t, func() bool {
		s.send("RESULTS")
		header := s.read()
		if header == "S 0" {
			return false
		}
		assert.Equal(t, "S 1", header)
		lines = append(lines, s.read())
		return true
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"req1 NULL"}, lines)
	assert.Equal(t, 1, r.callCount())
}

func TestServeAsyncNotification(t *testing.T) {
	r := &stubRunner{gate: make(chan struct{}), started: make(chan string, 2)}
	s := startSession(t, r)

	s.send("ASYNC_MODE_ON")
	assert.Equal(t, "S", s.read())

	s.send(ping("a"))
	assert.Equal(t, "S", s.read())
	s.send(ping("b"))
	assert.Equal(t, "S", s.read())
	<-r.started
	<-r.started

	close(r.gate)
	// Two results, one notification.
	assert.Equal(t, "R", s.read())
	require.Eventually(t, func() bool { return s.d.Pending() == 2 }, 5*time.Second, time.Millisecond)

	s.send("RESULTS")
	assert.Equal(t, "S 2", s.read())
	got := []string{s.read(), s.read()}
	assert.ElementsMatch(t, []string{"a NULL", "b NULL"}, got)

	s.send("ASYNC_MODE_OFF")
	assert.Equal(t, "S", s.read())
	s.send("QUIT")
	assert.Equal(t, "S", s.read())
}

func TestAsyncNotificationSkippedAfterDrain(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, Config{Workers: 1}, nil, zerolog.Nop())
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	var out bytes.Buffer
	srv := NewServer(d, &out, zerolog.Nop())

	_, err := srv.handle("ASYNC_MODE_ON")
	require.NoError(t, err)
	out.Reset()

	// A worker's notification that lost the race with RESULTS.
	d.results.Push("a NULL")
	_, err = srv.handle("RESULTS")
	require.NoError(t, err)
	out.Reset()
	srv.resultReady()
	assert.Empty(t, out.String())

	d.results.Push("b NULL")
	srv.resultReady()
	assert.Equal(t, "R\r\n", out.String())
}

func TestServeEndOfInput(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, Config{}, nil, zerolog.Nop())
	defer d.Close(context.Background())
	var out bytes.Buffer
	srv := NewServer(d, &out, zerolog.Nop())

	err := srv.Serve(context.Background(), strings.NewReader("VERSION\n\n   \nASYNC_MODE_OFF\n"))
	require.NoError(t, err)
	assert.Equal(t, Version+"\r\nS "+Version+"\r\nS\r\n", out.String())
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, Config{}, nil, zerolog.Nop())
	defer d.Close(context.Background())
	srv := NewServer(d, io.Discard, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := srv.Serve(ctx, strings.NewReader("VERSION\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
