package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	t.Helper()
	// keep the path short, unix sockets are limited to ~104 bytes
	dir, err := os.MkdirTemp("", "pd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "polydrive.sock")
}

func listHandler(entries ...index.IndexEntry) Handler {
	return HandlerFunc(func(ctx context.Context, cmd *Command) (*Response, error) {
		switch cmd.Kind {
		case KindList:
			return &Response{List: entries}, nil
		case KindRetry:
			return nil, errors.New("entry is not conflicted")
		default:
			return &Response{}, nil
		}
	})
}

func startListener(t *testing.T, path string, h Handler) (*CommandListener, context.CancelFunc, <-chan error) {
	t.Helper()
	l := NewCommandListener(path, h, WithExchangeTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx) }()

	select {
	case <-l.Ready():
	case err := <-done:
		cancel()
		require.FailNow(t, "listener failed", "%v", err)
	case <-time.After(2 * time.Second):
		cancel()
		require.FailNow(t, "listener not ready")
	}

	t.Cleanup(cancel)
	return l, cancel, done
}

func TestTransport_List(t *testing.T) {
	path := socketPath(t)
	entries := []index.IndexEntry{
		{Path: "/tmp/a.txt", Status: index.StatusSynced, RemoteID: "r1"},
		{Path: "/tmp/b.txt", Status: index.StatusSynced, RemoteID: "r2"},
	}
	startListener(t, path, listHandler(entries...))

	cmd := NewCommand(KindList, "")
	resp, err := NewCommandWriter(path).Send(context.Background(), cmd)
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	assert.Equal(t, cmd.ID, resp.ID)
	require.Len(t, resp.List, 2)
	assert.Equal(t, "/tmp/a.txt", resp.List[0].Path)
	assert.Equal(t, index.StatusSynced, resp.List[1].Status)
	assert.Equal(t, "r2", resp.List[1].RemoteID)
}

func TestTransport_SocketIsPrivate(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, listHandler())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestTransport_HandlerError(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, listHandler())

	resp, err := NewCommandWriter(path).Send(context.Background(), NewCommand(KindRetry, "/tmp/a.txt"))
	require.NoError(t, err, "handler failures are not transport failures")
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeHandler, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "not conflicted")
}

func TestTransport_InvalidCommand(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, listHandler())

	resp, err := NewCommandWriter(path).Send(context.Background(), &Command{Kind: KindWatch})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidCommand, resp.Error.Code)
}

func TestTransport_DecodeError(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, listHandler())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PDRV\x01\x00\x00\x00\x05{nope"))
	require.NoError(t, err)

	payload, err := readFrame(conn)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, jsonUnmarshal(payload, &resp))
	assert.False(t, resp.OK)
	assert.Empty(t, resp.ID)
	assert.Equal(t, CodeDecode, resp.Error.Code)
}

func TestTransport_DaemonNotReachable(t *testing.T) {
	_, err := NewCommandWriter(socketPath(t)).Send(context.Background(), NewCommand(KindList, ""))
	assert.ErrorIs(t, err, ErrDaemonNotReachable)
}

func TestTransport_ConnectionDropped(t *testing.T) {
	path := socketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	// a peer that reads the command and hangs up without answering
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		readFrame(conn)
		conn.Close()
	}()

	resp, err := NewCommandWriter(path).Send(context.Background(), NewCommand(KindList, ""))
	assert.ErrorIs(t, err, ErrConnection)
	assert.Nil(t, resp)
}

func TestListener_ReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	// a crashed daemon leaves its socket file behind but holds no lock
	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	require.FileExists(t, path)

	startListener(t, path, listHandler())

	resp, err := NewCommandWriter(path).Send(context.Background(), NewCommand(KindStatus, ""))
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestListener_DaemonRunning(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, listHandler())

	err := NewCommandListener(path, listHandler()).Listen(context.Background())
	assert.ErrorIs(t, err, ErrDaemonRunning)

	// the running daemon is unaffected
	_, err = NewCommandWriter(path).Send(context.Background(), NewCommand(KindList, ""))
	assert.NoError(t, err)
}

func TestListener_ShutdownCleansUp(t *testing.T) {
	path := socketPath(t)
	_, cancel, done := startListener(t, path, listHandler())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "listener did not stop")
	}

	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".lock")

	_, err := NewCommandWriter(path).Send(context.Background(), NewCommand(KindList, ""))
	assert.ErrorIs(t, err, ErrDaemonNotReachable)
}

func TestListener_ConcurrentClients(t *testing.T) {
	path := socketPath(t)
	entries := []index.IndexEntry{{Path: "/tmp/a.txt"}}
	startListener(t, path, listHandler(entries...))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := NewCommandWriter(path).Send(context.Background(), NewCommand(KindList, ""))
			if err == nil && len(resp.List) != 1 {
				err = errors.New("unexpected list")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestTransport_OversizedResponseIsHandlerError(t *testing.T) {
	path := socketPath(t)
	dir := "/tmp/" + strings.Repeat("d", 200)
	entries := make([]index.IndexEntry, 40_000)
	for i := range entries {
		entries[i] = index.IndexEntry{Path: fmt.Sprintf("%s/%05d.txt", dir, i), Status: index.StatusSynced}
	}
	startListener(t, path, listHandler(entries...))

	cmd := NewCommand(KindList, "")
	resp, err := NewCommandWriter(path).Send(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, resp.ID)
	require.Error(t, resp.Err())
	assert.Equal(t, CodeHandler, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "too large")
}

func pagingHandler(page int, paths ...string) (Handler, *int) {
	calls := 0
	return HandlerFunc(func(ctx context.Context, cmd *Command) (*Response, error) {
		calls++
		var resp Response
		for _, p := range paths {
			if p > cmd.After && len(resp.List) < page {
				resp.List = append(resp.List, index.IndexEntry{Path: p})
			}
		}
		if n := len(resp.List); n == page && resp.List[n-1].Path != paths[len(paths)-1] {
			resp.Next = resp.List[n-1].Path
		}
		return &resp, nil
	}), &calls
}

func TestCommandWriter_ListFollowsPages(t *testing.T) {
	path := socketPath(t)
	paths := make([]string, 30)
	for i := range paths {
		paths[i] = fmt.Sprintf("/data/%02d.txt", i)
	}
	h, calls := pagingHandler(7, paths...)
	startListener(t, path, h)

	entries, err := NewCommandWriter(path).List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, len(paths))
	for i, e := range entries {
		assert.Equal(t, paths[i], e.Path)
	}
	assert.Equal(t, 5, *calls)
}

func TestCommandWriter_ListStuckCursor(t *testing.T) {
	path := socketPath(t)
	startListener(t, path, HandlerFunc(func(ctx context.Context, cmd *Command) (*Response, error) {
		return &Response{List: []index.IndexEntry{{Path: "/a"}}, Next: "/a"}, nil
	}))

	_, err := NewCommandWriter(path).List(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestCommandWriter_ListNotReachable(t *testing.T) {
	_, err := NewCommandWriter(socketPath(t)).List(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotReachable)
}
