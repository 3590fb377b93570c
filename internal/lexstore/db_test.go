package lexstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anonymous = &ACLContext{SubjectID: "anonymous"}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Create(filepath.Join(t.TempDir(), "sessions.mv2"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func put(t *testing.T, db *DB, content string, tags map[string]string) {
	t.Helper()
	require.NoError(t, db.PutBytes([]byte(content), PutOptions{
		Title: "Session Frame",
		URI:   "session://" + tags["session_id"] + "/" + content,
		Tags:  tags,
	}))
}

func texts(resp *SearchResponse) []string {
	out := make([]string, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		out = append(out, h.Text)
	}
	return out
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.mv2")

	db, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, db.EnableLex())
	put(t, db, "persisted frame", map[string]string{"session_id": "s1"})
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	_, err = Create(path)
	assert.ErrorIs(t, err, ErrStoreExists)

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.True(t, db.LexEnabled(), "lexical index flag should survive reopen")

	count, err := db.FrameCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	resp, err := db.Search(SearchRequest{Query: "persisted", ACLContext: anonymous})
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted frame"}, texts(resp))
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.mv2"))
	assert.ErrorIs(t, err, ErrStoreMissing)

	junk := filepath.Join(dir, "junk.mv2")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a store file at all, just text"), 0o644))
	_, err = Open(junk)
	assert.Error(t, err)
}

func TestClosedDB(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.EnableLex(), ErrClosed)
	assert.ErrorIs(t, db.PutBytes([]byte("x"), PutOptions{}), ErrClosed)
	assert.ErrorIs(t, db.Commit(), ErrClosed)
	_, err := db.Search(SearchRequest{Query: "x", ACLContext: anonymous})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEnableLexIdempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.EnableLex())
	require.NoError(t, db.EnableLex())
	require.NoError(t, db.Commit())
	require.NoError(t, db.EnableLex())

	put(t, db, "only once", map[string]string{"session_id": "s"})
	require.NoError(t, db.Commit())
	require.NoError(t, db.EnableLex())

	resp, err := db.Search(SearchRequest{Query: "once", ACLContext: anonymous})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
}

func TestEnableLexBackfillsCommittedFrames(t *testing.T) {
	db := newTestDB(t)

	put(t, db, "written before the index", map[string]string{"session_id": "s"})
	require.NoError(t, db.Commit())

	_, err := db.Search(SearchRequest{Query: "index", ACLContext: anonymous})
	assert.ErrorIs(t, err, ErrLexDisabled)

	resp, err := db.Search(SearchRequest{Tags: map[string]string{"session_id": "s"}, ACLContext: anonymous})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1, "tag-only searches do not need the lexical index")

	require.NoError(t, db.EnableLex())
	resp, err = db.Search(SearchRequest{Query: "index", ACLContext: anonymous})
	require.NoError(t, err)
	assert.Equal(t, []string{"written before the index"}, texts(resp))
}

func TestStagedFramesInvisibleUntilCommit(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnableLex())

	put(t, db, "marker-7f3a pending", map[string]string{"session_id": "s"})
	assert.Equal(t, 1, db.Pending())

	resp, err := db.Search(SearchRequest{Query: "pending", ACLContext: anonymous})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)

	count, err := db.FrameCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, db.Commit())
	assert.Zero(t, db.Pending())

	resp, err = db.Search(SearchRequest{Query: "pending", ACLContext: anonymous})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
}

func TestCloseDropsStagedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.mv2")
	db, err := Create(path)
	require.NoError(t, err)

	put(t, db, "never committed", map[string]string{"session_id": "s"})
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	count, err := db.FrameCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPutBytesRejectsBadTagNames(t *testing.T) {
	db := newTestDB(t)

	err := db.PutBytes([]byte("x"), PutOptions{Tags: map[string]string{"bad name": "v"}})
	assert.ErrorIs(t, err, ErrInvalidTag)
	assert.Zero(t, db.Pending())
}

func TestPutBytesCopiesTags(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnableLex())

	tags := map[string]string{"session_id": "a"}
	put(t, db, "copied tags", tags)
	tags["session_id"] = "b"
	require.NoError(t, db.Commit())

	resp, err := db.Search(SearchRequest{Tags: map[string]string{"session_id": "a"}, ACLContext: anonymous})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
}

func TestAsOfTimestamp(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.EnableLex())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return base }
	put(t, db, "early frame", map[string]string{"session_id": "s"})
	db.now = func() time.Time { return base.Add(time.Hour) }
	put(t, db, "late frame", map[string]string{"session_id": "s"})
	require.NoError(t, db.Commit())

	resp, err := db.Search(SearchRequest{
		Query:      "frame",
		AsOfTS:     base.Add(time.Minute),
		ACLContext: anonymous,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"early frame"}, texts(resp))
}
