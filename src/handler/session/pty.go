package session

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
)

// ptyReadBufSize matches the typical kernel PTY buffer so a single read drains
// a full burst.
const ptyReadBufSize = 64 * 1024

// PTYProcess owns one child process attached to a pseudo-terminal. Output is
// delivered on a dedicated reader goroutine in issuance order; exit is
// delivered exactly once.
type PTYProcess struct {
	ptmx *os.File
	cmd  *exec.Cmd

	mu      sync.Mutex
	closed  bool
	cols    uint16
	rows    uint16
	usePgrp bool

	writeTimeout time.Duration

	exitOnce sync.Once
	onExit   func(code int)
}

// SpawnSpec is the fully resolved process description the runtime receives.
// Template rendering and workspace/isolation mechanics happen upstream.
type SpawnSpec struct {
	Argv []string
	Dir  string
	Env  map[string]string
	Cols uint16
	Rows uint16
}

// SpawnPTY forks/execs spec's argv on a fresh PTY of the given size. onOutput
// is called from the reader goroutine with each chunk; onExit once, after the
// final chunk, with the process exit code.
func SpawnPTY(spec SpawnSpec, writeTimeout time.Duration, onOutput func([]byte), onExit func(code int)) (*PTYProcess, error) {
	if len(spec.Argv) == 0 {
		return nil, ErrSpawnFailed.WithMessage("empty argv")
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = buildEnv(spec.Env)

	// Process group so teardown reaches the whole tree (Linux only; Setpgid
	// can fail in sandboxed macOS environments).
	usePgrp := runtime.GOOS == "linux"
	if usePgrp {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, ErrSpawnFailed.WithMessage("spawn %q: %v", spec.Argv[0], err)
	}

	p := &PTYProcess{
		ptmx:         ptmx,
		cmd:          cmd,
		cols:         cols,
		rows:         rows,
		usePgrp:      usePgrp,
		writeTimeout: writeTimeout,
		onExit:       onExit,
	}
	go p.readLoop(onOutput)
	return p, nil
}

// buildEnv merges overrides onto the process environment, overrides winning,
// and pins TERM for proper terminal emulation.
func buildEnv(overrides map[string]string) []string {
	system := os.Environ()
	final := make([]string, 0, len(system)+len(overrides)+1)
	for _, kv := range system {
		idx := -1
		for i, c := range kv {
			if c == '=' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			continue
		}
		if _, ok := overrides[kv[:idx]]; !ok {
			final = append(final, kv)
		}
	}
	for k, v := range overrides {
		final = append(final, k+"="+v)
	}
	if _, ok := overrides["TERM"]; !ok {
		final = append(final, "TERM=xterm-256color")
	}
	return final
}

// readLoop drains the PTY master until the child exits, then reaps it and
// reports the exit code. Chunks are copied before hand-off; the loop is the
// only reader so ordering is inherent.
func (p *PTYProcess) readLoop(onOutput func([]byte)) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("PTY read loop panic: %v", r)
		}
		p.finish()
	}()

	buf := make([]byte, ptyReadBufSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			onOutput(data)
		}
		if err != nil {
			return
		}
	}
}

// finish reaps the child and fires onExit exactly once.
func (p *PTYProcess) finish() {
	p.exitOnce.Do(func() {
		code := 0
		if p.cmd != nil {
			if err := p.cmd.Wait(); err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					code = exitErr.ExitCode()
				} else {
					code = 1
				}
			}
		}
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if p.onExit != nil {
			p.onExit(code)
		}
	})
}

// Write sends bytes to the PTY master. A full kernel buffer blocks for at most
// the configured write timeout before failing with PTYBusy.
func (p *PTYProcess) Write(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPTYClosed
	}
	ptmx := p.ptmx
	p.mu.Unlock()

	if p.writeTimeout > 0 {
		_ = ptmx.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		defer ptmx.SetWriteDeadline(time.Time{})
	}

	if _, err := ptmx.Write(data); err != nil {
		if os.IsTimeout(err) {
			return ErrPTYBusy
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return ErrPTYClosed
		}
		return ErrPTYWriteFailed.WithMessage("pty write: %v", err)
	}
	return nil
}

// Resize changes the PTY window size. Equal dimensions are a no-op so repeated
// client resizes do not generate redundant ioctls.
func (p *PTYProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPTYClosed
	}
	if cols == p.cols && rows == p.rows {
		return nil
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	p.cols, p.rows = cols, rows
	return nil
}

// Size returns the current window size.
func (p *PTYProcess) Size() (cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Alive reports whether the child is still running.
func (p *PTYProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Terminate asks the child to exit with SIGTERM and escalates to SIGKILL after
// grace. Closing the master first signals EOF to well-behaved children.
func (p *PTYProcess) Terminate(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	ptmx := p.ptmx
	p.mu.Unlock()

	_ = ptmx.Close()
	p.signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for p.Alive() {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		p.signal(syscall.SIGKILL)
	}
}

// Kill forcefully stops the child and its process group.
func (p *PTYProcess) Kill() {
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	_ = ptmx.Close()
	p.signal(syscall.SIGKILL)
}

func (p *PTYProcess) signal(sig syscall.Signal) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	pid := p.cmd.Process.Pid
	if p.usePgrp {
		_ = syscall.Kill(-pid, sig)
	} else {
		_ = p.cmd.Process.Signal(sig)
	}
}
