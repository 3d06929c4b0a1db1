package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/polydrive/polydrive/internal/client/index"
)

var (
	ErrDaemonNotReachable = errors.New("daemon not reachable")
	ErrConnection         = errors.New("connection error")
)

// CommandWriter sends one command per connection to a daemon socket
type CommandWriter struct {
	socketPath string
	timeout    time.Duration
}

func NewCommandWriter(socketPath string) *CommandWriter {
	return &CommandWriter{socketPath: socketPath, timeout: defaultTimeout}
}

// Send delivers cmd and waits for its response. A daemon that is not running
// yields ErrDaemonNotReachable, a failure mid-exchange ErrConnection.
func (w *CommandWriter) Send(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", w.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrDaemonNotReachable, w.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err := writeFrame(conn, cmd); err != nil {
		return nil, fmt.Errorf("%w: send: %w", ErrConnection, err)
	}

	payload, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: receive: %w", ErrConnection, err)
	}

	var resp Response
	if err := jsonUnmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrConnection, err)
	}

	// a command the daemon could not decode comes back without an id
	if resp.ID != cmd.ID && (resp.OK || resp.ID != "") {
		return nil, fmt.Errorf("%w: response %q does not answer %q", ErrConnection, resp.ID, cmd.ID)
	}
	return &resp, nil
}

// List pages through the whole index in path order. An entry that changes
// between pages is reported as the page that covered it saw it.
func (w *CommandWriter) List(ctx context.Context) ([]index.IndexEntry, error) {
	var (
		entries []index.IndexEntry
		after   string
	)
	for {
		cmd := NewCommand(KindList, "")
		cmd.After = after

		resp, err := w.Send(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}

		entries = append(entries, resp.List...)
		if resp.Next == "" {
			return entries, nil
		}
		if resp.Next <= after {
			return nil, fmt.Errorf("%w: list cursor %q did not advance", ErrConnection, resp.Next)
		}
		after = resp.Next
	}
}
