// Package sessionstore coordinates access to a project's session frame
// store: every engine call is serialized behind one lock, and every write
// is committed before the lock is released.
package sessionstore

import (
	"context"

	"github.com/localrivet/codebridge/internal/lexstore"
)

// SessionStore defines the interface for appending and retrieving session frames.
type SessionStore interface {
	// AppendFrame stores content as a new frame of the given session.
	AppendFrame(ctx context.Context, content, sessionID string) error

	// SearchText returns the text of frames matching a free-text query.
	SearchText(ctx context.Context, query string) ([]string, error)

	// GetSessionFrames returns the text of frames tagged with sessionID.
	GetSessionFrames(ctx context.Context, sessionID string) ([]string, error)

	// Path returns the store file location.
	Path() string

	// Close closes the store and releases any resources.
	Close() error
}

// Engine is the storage engine a FrameStore drives. *lexstore.DB
// implements it. Implementations need not be safe for concurrent use.
type Engine interface {
	EnableLex() error
	PutBytes(data []byte, opts lexstore.PutOptions) error
	Commit() error
	Search(req lexstore.SearchRequest) (*lexstore.SearchResponse, error)
	Close() error
}

var _ SessionStore = (*FrameStore)(nil)
var _ Engine = (*lexstore.DB)(nil)
