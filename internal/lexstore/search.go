package lexstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

type tagFilter struct {
	name  string
	value string
}

// parsedQuery is a free-text query split into lexical terms and tag filters.
type parsedQuery struct {
	terms []string
	tags  []tagFilter
}

// parseQuery splits query on whitespace. A term name:value where name is a
// valid tag name becomes a tag filter.
func parseQuery(query string) parsedQuery {
	var pq parsedQuery
	for _, tok := range strings.Fields(query) {
		if idx := strings.IndexByte(tok, ':'); idx > 0 && idx < len(tok)-1 && validTagName(tok[:idx]) {
			pq.tags = append(pq.tags, tagFilter{name: tok[:idx], value: tok[idx+1:]})
			continue
		}
		if hasWordChar(tok) {
			pq.terms = append(pq.terms, tok)
		}
	}
	return pq
}

// matchExpr quotes every term so FTS5 operators in user input are literal.
func (pq parsedQuery) matchExpr() string {
	quoted := make([]string, len(pq.terms))
	for i, term := range pq.terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func validTagName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Search runs req against committed frames. Staged frames are never returned.
func (db *DB) Search(req SearchRequest) (*SearchResponse, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	if req.ACLContext == nil {
		return nil, ErrACLContextRequired
	}

	pq := parseQuery(req.Query)
	names := make([]string, 0, len(req.Tags))
	for name := range req.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !validTagName(name) {
			return nil, fmt.Errorf("%q: %w", name, ErrInvalidTag)
		}
		pq.tags = append(pq.tags, tagFilter{name: name, value: req.Tags[name]})
	}

	lexical := len(pq.terms) > 0
	if lexical && !db.lexEnabled {
		return nil, ErrLexDisabled
	}
	if !lexical && len(pq.tags) == 0 && !req.filtered() {
		return &SearchResponse{}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var sb strings.Builder
	var args []interface{}

	sb.WriteString(`SELECT f.id, f.uri, f.title, f.content, `)
	if lexical {
		sb.WriteString(`-bm25(frames_fts) AS score, `)
	} else {
		sb.WriteString(`0.0 AS score, `)
	}
	sb.WriteString(`COALESCE((SELECT value FROM frame_tags WHERE frame_id = f.id AND name = ?), '') AS tenant FROM frames f `)
	args = append(args, TenantTag)

	if lexical {
		sb.WriteString(`JOIN frames_fts ON frames_fts.rowid = f.id WHERE frames_fts MATCH ? `)
		args = append(args, pq.matchExpr())
	} else {
		sb.WriteString(`WHERE 1 = 1 `)
	}

	for _, tf := range pq.tags {
		sb.WriteString(`AND EXISTS (SELECT 1 FROM frame_tags t WHERE t.frame_id = f.id AND t.name = ? AND t.value = ?) `)
		args = append(args, tf.name, tf.value)
	}
	if req.URI != "" {
		sb.WriteString(`AND f.uri = ? `)
		args = append(args, req.URI)
	}
	if req.Scope != "" {
		sb.WriteString(`AND substr(f.uri, 1, length(?)) = ? `)
		args = append(args, req.Scope, req.Scope)
	}
	if req.Cursor != "" {
		after, err := strconv.ParseInt(req.Cursor, 10, 64)
		if err != nil || after < 0 {
			return nil, fmt.Errorf("%q: %w", req.Cursor, ErrInvalidCursor)
		}
		sb.WriteString(`AND f.id > ? `)
		args = append(args, after)
	}
	if req.AsOfFrame > 0 {
		sb.WriteString(`AND f.id <= ? `)
		args = append(args, int64(req.AsOfFrame))
	}
	if !req.AsOfTS.IsZero() {
		sb.WriteString(`AND f.created_at <= ? `)
		args = append(args, req.AsOfTS.UnixNano())
	}

	if lexical {
		sb.WriteString(`ORDER BY score DESC, f.id ASC `)
	} else {
		sb.WriteString(`ORDER BY f.id ASC `)
	}
	sb.WriteString(`LIMIT ?;`)
	args = append(args, int64(topK))

	resp := &SearchResponse{}
	err := sqlitex.ExecTransient(db.conn, sb.String(), func(stmt *sqlite.Stmt) error {
		hit := SearchHit{
			FrameID: uint64(stmt.ColumnInt64(0)),
			URI:     stmt.ColumnText(1),
			Title:   stmt.ColumnText(2),
			Text:    stmt.ColumnText(3),
			Score:   stmt.ColumnFloat(4),
		}
		hit.Snippet = truncateRunes(hit.Text, req.SnippetChars)

		if tenant := stmt.ColumnText(5); !visibleTo(tenant, req.ACLContext) {
			if req.ACLEnforcementMode == ACLEnforce {
				return nil
			}
			hit.ACLFlagged = true
			db.logger.Warn("acl audit: hit not visible to subject",
				"frame_id", hit.FrameID,
				"uri", hit.URI,
				"subject_id", req.ACLContext.SubjectID,
				"tenant_id", req.ACLContext.TenantID)
		}

		resp.Hits = append(resp.Hits, hit)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}

	if len(resp.Hits) == topK && !lexical {
		resp.NextCursor = strconv.FormatUint(resp.Hits[len(resp.Hits)-1].FrameID, 10)
	}
	return resp, nil
}

// filtered reports whether req narrows the frame set by anything other than
// its query text.
func (req SearchRequest) filtered() bool {
	return req.URI != "" || req.Scope != "" || req.Cursor != "" || req.AsOfFrame > 0 || !req.AsOfTS.IsZero()
}

// visibleTo reports whether a frame owned by tenant may be seen by acl.
// Frames without a tenant are public.
func visibleTo(tenant string, acl *ACLContext) bool {
	return tenant == "" || tenant == acl.TenantID
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
