package sessionstore

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/localrivet/codebridge/internal/lexstore"
)

var errInjected = errors.New("injected failure")

// fakeEngine records calls and detects overlapping access.
type fakeEngine struct {
	mu sync.Mutex

	enableErr error
	putErr    error
	commitErr error
	searchErr error
	closeErr  error

	enableCalls int
	pending     []lexstore.PutOptions
	committed   []lexstore.PutOptions
	requests    []lexstore.SearchRequest
	closed      bool

	// searchEntered and searchRelease make Search block when set.
	searchEntered chan struct{}
	searchRelease chan struct{}

	active    int32
	maxActive int32
}

func (f *fakeEngine) enter() func() {
	n := atomic.AddInt32(&f.active, 1)
	for {
		cur := atomic.LoadInt32(&f.maxActive)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxActive, cur, n) {
			break
		}
	}
	return func() { atomic.AddInt32(&f.active, -1) }
}

func (f *fakeEngine) EnableLex() error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	return f.enableErr
}

func (f *fakeEngine) PutBytes(data []byte, opts lexstore.PutOptions) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.pending = append(f.pending, opts)
	return nil
}

func (f *fakeEngine) Commit() error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	staged := f.pending
	f.pending = nil
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, staged...)
	return nil
}

func (f *fakeEngine) Search(req lexstore.SearchRequest) (*lexstore.SearchResponse, error) {
	defer f.enter()()
	if f.searchEntered != nil {
		close(f.searchEntered)
		<-f.searchRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	resp := &lexstore.SearchResponse{}
	for _, opts := range f.committed {
		resp.Hits = append(resp.Hits, lexstore.SearchHit{URI: opts.URI, Text: opts.Tags[MessageTag], Score: 1})
	}
	return resp, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeEngine) lastRequest() lexstore.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}
