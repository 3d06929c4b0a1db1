package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/polydrive/polydrive/internal/utils"
)

// List returns one page of the index in path order. Next is set to the last
// path of the page when more entries follow.
func (h *Handler) List(_ context.Context, cmd *command.Command) (*command.Response, error) {
	limit := cmd.Limit
	if limit <= 0 || limit > command.MaxListPage {
		limit = command.MaxListPage
	}

	entries := h.indexer.Snapshot()
	start := sort.Search(len(entries), func(i int) bool { return entries[i].Path > cmd.After })
	end := min(start+limit, len(entries))

	resp := &command.Response{List: entries[start:end]}
	if end < len(entries) {
		resp.Next = entries[end-1].Path
	}
	return resp, nil
}

// Retry moves a conflicted entry back into the sync queue
func (h *Handler) Retry(_ context.Context, cmd *command.Command) (*command.Response, error) {
	path, err := utils.ResolvePath(cmd.Path)
	if err != nil {
		return nil, err
	}

	if err := h.indexer.Retry(path); err != nil {
		return nil, fmt.Errorf("retry %s: %w", path, err)
	}

	entry, _ := h.indexer.Get(path)
	return &command.Response{List: []index.IndexEntry{entry}}, nil
}
