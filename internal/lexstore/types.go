// Package lexstore implements a single-file frame store with a lexical
// (FTS5) index on top of SQLite.
//
// A DB is not safe for concurrent use. Callers that share one DB between
// goroutines must serialize every call themselves.
package lexstore

import (
	"errors"
	"time"
)

// Errors returned by the store.
var (
	ErrStoreExists        = errors.New("store file already exists")
	ErrStoreMissing       = errors.New("store file does not exist")
	ErrNotStore           = errors.New("file is not a frame store")
	ErrClosed             = errors.New("store is closed")
	ErrLexDisabled        = errors.New("lexical index is not enabled")
	ErrACLContextRequired = errors.New("acl context is required")
	ErrInvalidCursor      = errors.New("invalid search cursor")
	ErrInvalidTag         = errors.New("invalid tag name")
)

// PutOptions describes the metadata stored alongside a frame payload.
type PutOptions struct {
	Title string
	URI   string
	Tags  map[string]string
}

// ACLEnforcementMode controls what happens to hits the requesting subject
// is not allowed to see.
type ACLEnforcementMode int

const (
	// ACLAudit keeps hidden hits in the response and flags them.
	ACLAudit ACLEnforcementMode = iota
	// ACLEnforce drops hidden hits from the response.
	ACLEnforce
)

func (m ACLEnforcementMode) String() string {
	switch m {
	case ACLAudit:
		return "audit"
	case ACLEnforce:
		return "enforce"
	default:
		return "unknown"
	}
}

// ACLContext identifies the subject a search runs on behalf of.
type ACLContext struct {
	TenantID  string
	SubjectID string
	Roles     []string
	GroupIDs  []string
}

// SearchRequest is a single query against the store.
type SearchRequest struct {
	// Query is free text. Terms of the form name:value filter on tags,
	// everything else is matched against the lexical index.
	Query        string
	TopK         int
	SnippetChars int

	// URI restricts hits to one frame URI.
	URI string
	// Scope restricts hits to frame URIs with this prefix.
	Scope string
	// Cursor is the frame id of the last hit of a previous page. Only
	// searches without lexical terms are ordered by frame id.
	Cursor string
	// AsOfFrame hides frames committed after the given frame id.
	AsOfFrame uint64
	// AsOfTS hides frames staged after the given time.
	AsOfTS   time.Time
	NoSketch bool

	// Tags are exact tag filters applied in addition to any in Query.
	Tags map[string]string

	ACLContext         *ACLContext
	ACLEnforcementMode ACLEnforcementMode
}

// SearchHit is one matching frame.
type SearchHit struct {
	FrameID    uint64
	URI        string
	Title      string
	Text       string
	Snippet    string
	Score      float64
	ACLFlagged bool
}

// SearchResponse holds hits in rank order.
type SearchResponse struct {
	Hits []SearchHit
	// NextCursor is set when the page was full.
	NextCursor string
}

// DefaultTopK is used when SearchRequest.TopK is not positive.
const DefaultTopK = 10

// TenantTag marks a frame as visible only to one tenant.
const TenantTag = "acl_tenant"
