package oracle

import (
	"context"
	"fmt"
	"sync"
)

// FeedReader supplies synchronous point lookups of feed state. There is no
// subscription mechanics here: callers read, resolve, and move on.
type FeedReader interface {
	// ReadPair returns the current spot and EMA readings for a feed ref.
	ReadPair(ctx context.Context, ref string) (spot, ema Reading, err error)

	// ReadFallback returns the persisted fallback record for a feed ref.
	ReadFallback(ctx context.Context, ref string) (FallbackRecord, error)
}

// StaticReader is an in-memory FeedReader used in tests and development.
type StaticReader struct {
	mu        sync.RWMutex
	pairs     map[string][2]Reading
	fallbacks map[string]FallbackRecord
}

// NewStaticReader creates an empty in-memory feed reader.
func NewStaticReader() *StaticReader {
	return &StaticReader{
		pairs:     make(map[string][2]Reading),
		fallbacks: make(map[string]FallbackRecord),
	}
}

// SetPair publishes a spot+EMA reading pair for a feed ref.
func (r *StaticReader) SetPair(ref string, spot, ema Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[ref] = [2]Reading{spot, ema}
}

// SetFallback publishes a fallback record for a feed ref.
func (r *StaticReader) SetFallback(ref string, rec FallbackRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[ref] = rec
}

func (r *StaticReader) ReadPair(_ context.Context, ref string) (Reading, Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair, ok := r.pairs[ref]
	if !ok {
		return Reading{}, Reading{}, fmt.Errorf("%w: feed %s", ErrInvalidAccount, ref)
	}
	return pair[0], pair[1], nil
}

func (r *StaticReader) ReadFallback(_ context.Context, ref string) (FallbackRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.fallbacks[ref]
	if !ok {
		return FallbackRecord{}, fmt.Errorf("%w: fallback feed %s", ErrInvalidAccount, ref)
	}
	return rec, nil
}
