package index

import (
	"fmt"
	"time"
)

type Status uint8

const (
	StatusUnsynced Status = iota
	StatusPending
	StatusSynced
	StatusConflicted
)

var statusNames = [...]string{"unsynced", "pending", "synced", "conflicted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// IndexEntry is the record for one tracked path
type IndexEntry struct {
	Path        string      `json:"path"`
	Fingerprint Fingerprint `json:"fingerprint"`
	RemoteID    string      `json:"remoteId,omitempty"`
	Status      Status      `json:"status"`
	// Deleted marks a local removal that still has to be propagated
	Deleted bool `json:"deleted,omitempty"`
	// Download marks a remote-only entry that has to be materialized locally
	Download   bool      `json:"download,omitempty"`
	Generation uint64    `json:"generation"`
	Attempts   int       `json:"attempts,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// equivalent compares the reconciled state, ignoring bookkeeping fields
func (e *IndexEntry) equivalent(o *IndexEntry) bool {
	return e.Path == o.Path &&
		e.Fingerprint.Matches(o.Fingerprint) &&
		e.RemoteID == o.RemoteID &&
		e.Status == o.Status &&
		e.Deleted == o.Deleted &&
		e.Download == o.Download
}

type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpDownload Op = "download"
)

// SyncTask is one remote operation claimed from an Unsynced entry
type SyncTask struct {
	Op          Op
	Path        string
	Fingerprint Fingerprint
	RemoteID    string
	Generation  uint64
}

func (t SyncTask) String() string {
	return fmt.Sprintf("%s %s (gen %d)", t.Op, t.Path, t.Generation)
}
