package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/polydrive/polydrive/internal/utils"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConns = 8
	defaultTimeout  = 30 * time.Second
)

var ErrDaemonRunning = errors.New("another daemon owns the socket")

// Handler executes one decoded command against daemon state
type Handler interface {
	Handle(ctx context.Context, cmd *Command) (*Response, error)
}

type HandlerFunc func(ctx context.Context, cmd *Command) (*Response, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd *Command) (*Response, error) {
	return f(ctx, cmd)
}

// CommandListener accepts control plane connections on a unix socket.
// The socket is owned through an advisory lock on socketPath.lock, so a socket
// file without a lock holder is left over from a crashed daemon.
type CommandListener struct {
	socketPath string
	handler    Handler
	lock       *flock.Flock
	sem        *semaphore.Weighted
	timeout    time.Duration
	wg         sync.WaitGroup
	ready      chan struct{}
}

type ListenerOption func(*CommandListener)

// WithExchangeTimeout bounds one read-dispatch-write exchange
func WithExchangeTimeout(d time.Duration) ListenerOption {
	return func(l *CommandListener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func NewCommandListener(socketPath string, handler Handler, opts ...ListenerOption) *CommandListener {
	l := &CommandListener{
		socketPath: socketPath,
		handler:    handler,
		lock:       flock.New(socketPath + ".lock"),
		sem:        semaphore.NewWeighted(defaultMaxConns),
		timeout:    defaultTimeout,
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ready is closed once the socket accepts connections
func (l *CommandListener) Ready() <-chan struct{} {
	return l.ready
}

func (l *CommandListener) SocketPath() string {
	return l.socketPath
}

// Listen serves connections until ctx is done. On return open exchanges have
// finished, the socket file is removed and the lock released.
func (l *CommandListener) Listen(ctx context.Context) error {
	if err := utils.EnsureParent(l.socketPath); err != nil {
		return fmt.Errorf("socket dir: %w", err)
	}

	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock socket: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrDaemonRunning, l.socketPath)
	}
	defer l.unlock()

	if err := os.Remove(l.socketPath); err == nil {
		slog.Warn("removed stale socket", "path", l.socketPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(l.socketPath)

	if err := os.Chmod(l.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	slog.Info("command listener start", "socket", l.socketPath)
	close(l.ready)

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			break
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			l.serve(ctx, conn)
		}()
	}

	ln.Close()
	l.wg.Wait()
	slog.Info("command listener stopped")
	return acceptErr
}

func (l *CommandListener) unlock() {
	if err := l.lock.Unlock(); err != nil {
		slog.Warn("unlock socket", "error", err)
		return
	}
	os.Remove(l.lock.Path())
}

func (l *CommandListener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(l.timeout)); err != nil {
		slog.Warn("command deadline", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp := l.exchange(ctx, conn)
	err := writeFrame(conn, resp)
	if errors.Is(err, ErrFrameTooLarge) {
		slog.Warn("command response dropped", "id", resp.ID, "error", err)
		err = writeFrame(conn, errorResponse(resp.ID, CodeHandler, fmt.Errorf("response too large: %w", err)))
	}
	if err != nil {
		slog.Warn("command response", "id", resp.ID, "error", err)
	}
}

func (l *CommandListener) exchange(ctx context.Context, r io.Reader) *Response {
	payload, err := readFrame(r)
	if err != nil {
		slog.Debug("command decode", "error", err)
		return errorResponse("", CodeDecode, err)
	}

	var cmd Command
	if err := jsonUnmarshal(payload, &cmd); err != nil {
		return errorResponse("", CodeDecode, err)
	}
	if err := cmd.Validate(); err != nil {
		return errorResponse(cmd.ID, CodeInvalidCommand, err)
	}

	start := time.Now()
	resp, err := l.handler.Handle(ctx, &cmd)
	slog.Debug("command", "id", cmd.ID, "kind", cmd.Kind, "path", cmd.Path, "took", time.Since(start), "error", err)

	if err != nil {
		var cmdErr *Error
		if errors.As(err, &cmdErr) {
			return &Response{ID: cmd.ID, Error: cmdErr}
		}
		return errorResponse(cmd.ID, CodeHandler, err)
	}
	if resp == nil {
		resp = &Response{}
	}
	resp.ID = cmd.ID
	resp.OK = true
	resp.Error = nil
	return resp
}
