package sync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
)

// errLocalChanged aborts a task because the local file no longer matches it.
// The index already carries the newer state.
var errLocalChanged = errors.New("local file changed")

func (s *Synchronizer) execute(ctx context.Context, task index.SyncTask) (string, index.Fingerprint, error) {
	switch task.Op {
	case index.OpCreate, index.OpUpdate:
		return s.upload(ctx, task)
	case index.OpDelete:
		return "", index.Fingerprint{}, s.delete(ctx, task)
	case index.OpDownload:
		return s.download(ctx, task)
	default:
		return "", index.Fingerprint{}, fmt.Errorf("unknown op %q", task.Op)
	}
}

func (s *Synchronizer) upload(ctx context.Context, task index.SyncTask) (string, index.Fingerprint, error) {
	// hash what is on disk now, the task fingerprint may be a few events old
	fp, err := localFingerprint(task.Path)
	if errors.Is(err, os.ErrNotExist) {
		s.indexer.MarkRemoved(task.Path)
		return "", fp, fmt.Errorf("%w: %s vanished", errLocalChanged, task.Path)
	}
	if err != nil {
		return "", fp, err
	}

	entry, err := s.remote.Upload(ctx, &remote.UploadParams{
		Path:     task.Path,
		FilePath: task.Path,
		Hash:     fp.Hash,
		Size:     fp.Size,
	})
	if err != nil {
		return "", fp, err
	}
	return entry.ID, fp, nil
}

func (s *Synchronizer) delete(ctx context.Context, task index.SyncTask) error {
	// never reached the remote, nothing to delete there
	if task.RemoteID == "" {
		return nil
	}

	err := s.remote.Delete(ctx, task.RemoteID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Synchronizer) download(ctx context.Context, task index.SyncTask) (string, index.Fingerprint, error) {
	if utils.FileExists(task.Path) {
		// someone put the same content there already
		if fp, err := localFingerprint(task.Path); err == nil && fp.Matches(task.Fingerprint) {
			return task.RemoteID, fp, nil
		}
		return "", index.Fingerprint{}, fmt.Errorf("%w: %s appeared locally", errLocalChanged, task.Path)
	}

	out, err := utils.CreateVerified(task.Path)
	if err != nil {
		return "", index.Fingerprint{}, err
	}
	defer out.Abort()

	if err := s.remote.Download(ctx, task.RemoteID, out); err != nil {
		return "", index.Fingerprint{}, err
	}
	if err := out.Commit(task.Fingerprint.Hash); err != nil {
		return "", index.Fingerprint{}, err
	}

	fp, err := localFingerprint(task.Path)
	if err != nil {
		return "", fp, err
	}
	return task.RemoteID, fp, nil
}

func localFingerprint(path string) (index.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return index.Fingerprint{}, err
	}
	hash, err := utils.FileHash(path)
	if err != nil {
		return index.Fingerprint{}, err
	}
	return index.Fingerprint{Hash: hash, Size: info.Size(), ModTime: info.ModTime()}, nil
}
