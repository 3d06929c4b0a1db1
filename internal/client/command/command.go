// Package command is the local control plane between the CLI and a running
// daemon: one framed JSON command and one response per unix socket connection.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/polydrive/polydrive/internal/client/index"
)

type Kind string

const (
	KindList    Kind = "list"
	KindStatus  Kind = "status"
	KindWatch   Kind = "watch"
	KindUnwatch Kind = "unwatch"
	KindRetry   Kind = "retry"
)

func (k Kind) needsPath() bool {
	return k == KindWatch || k == KindUnwatch || k == KindRetry
}

func (k Kind) valid() bool {
	switch k {
	case KindList, KindStatus, KindWatch, KindUnwatch, KindRetry:
		return true
	}
	return false
}

// MaxListPage bounds the entries in one list response
const MaxListPage = 1000

type Command struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Path string `json:"path,omitempty"`

	// list paging: entries sorted by path strictly after After, at most Limit
	After string `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func NewCommand(kind Kind, path string) *Command {
	return &Command{ID: uuid.NewString(), Kind: kind, Path: path}
}

func (c *Command) Validate() error {
	if !c.Kind.valid() {
		return fmt.Errorf("unknown command %q", c.Kind)
	}
	if c.Kind.needsPath() && c.Path == "" {
		return fmt.Errorf("%s requires a path", c.Kind)
	}
	if c.Limit < 0 {
		return fmt.Errorf("negative limit %d", c.Limit)
	}
	return nil
}

const (
	CodeDecode         = "E_DECODE"
	CodeInvalidCommand = "E_INVALID_COMMAND"
	CodeHandler        = "E_HANDLER"
)

// Error is the structured failure carried in a Response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response answers exactly one Command. ID is empty when the command could not be decoded.
type Response struct {
	ID      string             `json:"id"`
	OK      bool               `json:"ok"`
	Error   *Error             `json:"error,omitempty"`
	List    []index.IndexEntry `json:"list,omitempty"`
	Next    string             `json:"next,omitempty"`
	Status  *StatusInfo        `json:"status,omitempty"`
	Targets []TargetInfo       `json:"targets,omitempty"`
}

// Err returns the response error, if any
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return &Error{Code: CodeHandler, Message: "command failed"}
	}
	return r.Error
}

func errorResponse(id, code string, err error) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: err.Error()}}
}

type TargetInfo struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Pattern string `json:"pattern,omitempty"`
}

type StatusInfo struct {
	PID       int            `json:"pid"`
	Version   string         `json:"version"`
	ServerURL string         `json:"serverUrl"`
	StartedAt time.Time      `json:"startedAt"`
	Uptime    time.Duration  `json:"uptime"`
	Targets   []TargetInfo   `json:"targets"`
	Counts    map[string]int `json:"counts"`
	InFlight  int            `json:"inFlight"`
	Journal   int            `json:"journal"`
	RSS       uint64         `json:"rss"`
}
