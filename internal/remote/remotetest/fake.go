package remotetest

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/polydrive/polydrive/internal/remote"
)

type Op string

const (
	OpList     Op = "list"
	OpUpload   Op = "upload"
	OpDelete   Op = "delete"
	OpDownload Op = "download"
)

// Fake is an in-memory remote.Service with failure injection and call recording
type Fake struct {
	*Store

	mu       sync.Mutex
	calls    map[Op]int
	failures map[Op][]error

	// BeforeUpload runs once the upload content was read and before it is
	// stored, outside any lock. Failed calls do not reach it.
	BeforeUpload func(params *remote.UploadParams)
}

var _ remote.Service = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Store:    NewStore(),
		calls:    make(map[Op]int),
		failures: make(map[Op][]error),
	}
}

// FailNext makes the next n calls of op return err
func (f *Fake) FailNext(op Op, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range n {
		f.failures[op] = append(f.failures[op], err)
	}
}

// Calls returns how many times op was invoked, failed calls included
func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) record(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	if queued := f.failures[op]; len(queued) > 0 {
		f.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *Fake) List(ctx context.Context) ([]remote.Entry, error) {
	if err := f.record(OpList); err != nil {
		return nil, err
	}
	return f.Entries(), nil
}

func (f *Fake) Upload(ctx context.Context, params *remote.UploadParams) (*remote.Entry, error) {
	if err := f.record(OpUpload); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(params.FilePath)
	if err != nil {
		return nil, err
	}

	if f.BeforeUpload != nil {
		f.BeforeUpload(params)
	}

	entry, err := f.Put(params.Path, content, params.Hash)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (f *Fake) Delete(ctx context.Context, id string) error {
	if err := f.record(OpDelete); err != nil {
		return err
	}
	return f.Store.Delete(id)
}

func (f *Fake) Download(ctx context.Context, id string, w io.Writer) error {
	if err := f.record(OpDownload); err != nil {
		return err
	}
	content, err := f.Content(id)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}
