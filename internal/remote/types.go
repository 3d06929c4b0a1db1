package remote

import "time"

// Entry is a file as the remote service knows it
type Entry struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// ListResponse is returned by the list endpoint
type ListResponse struct {
	Files []Entry `json:"files"`
}

// UploadParams describes a create-or-update of a remote entry from a local file.
// The remote service treats it as idempotent by Path+Hash.
type UploadParams struct {
	Path     string
	FilePath string
	Hash     string
	Size     int64
}

// DeleteResponse is returned by the delete endpoint
type DeleteResponse struct {
	Deleted string `json:"deleted"`
}
