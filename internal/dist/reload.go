// Copyright (c) 2026 Mesteriis

package dist

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Mesteriis/serverPKI/internal/apperr"
)

// ReceiveChunkTimeout bounds how long RunReloadCommand waits between
// successive writes of the remote command's output, mirroring
// certdist.py's chan.settimeout(10.0) / socket.timeout recv loop: a quiet
// period this long is treated as "done producing output", not a hard
// failure (spec: reload failures never abort a deploy run).
const ReceiveChunkTimeout = 10 * time.Second

// idleWriter buffers writes and reports, via activity, every time a new
// chunk lands — the Go-side equivalent of the source's per-recv(1024) loop,
// since golang.org/x/crypto/ssh exposes output as a Writer rather than a
// socket with a settable recv timeout.
type idleWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	activity chan struct{}
}

func newIdleWriter() *idleWriter {
	return &idleWriter{activity: make(chan struct{}, 1)}
}

func (w *idleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	select {
	case w.activity <- struct{}{}:
	default:
	}
	return n, err
}

func (w *idleWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Bytes()
}

// RunReloadCommand executes cmd on an already-open SSH connection and
// returns its combined stdout+stderr. If no output arrives for
// ReceiveChunkTimeout the session is torn down and timedOut is reported
// true. exitErr carries a non-zero exit status when the command completes;
// per spec both exitErr and timedOut are warnings the caller logs, never a
// reason to abort the deploy run — only err (session setup/start failure)
// is a real error.
func RunReloadCommand(client *ssh.Client, cmd string) (output []byte, timedOut bool, exitErr error, err error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, false, nil, apperr.New("dist.RunReloadCommand", apperr.TransportError, fmt.Errorf("new session: %w", err))
	}
	defer session.Close()

	out := newIdleWriter()
	session.Stdout = out
	session.Stderr = out

	if err := session.Start(cmd); err != nil {
		return nil, false, nil, apperr.New("dist.RunReloadCommand", apperr.TransportError, fmt.Errorf("start %q: %w", cmd, err))
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	timer := time.NewTimer(ReceiveChunkTimeout)
	defer timer.Stop()
	for {
		select {
		case waitErr := <-waitDone:
			return out.Bytes(), false, waitErr, nil
		case <-out.activity:
			timer.Reset(ReceiveChunkTimeout)
		case <-timer.C:
			_ = session.Close()
			return out.Bytes(), true, nil, nil
		}
	}
}
