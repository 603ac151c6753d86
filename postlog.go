package receiptgate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// postLog is the per-process submission log behind the Poster. Each requestId
// has at most one submission running at any moment: the first caller executes
// it, and every later caller with the same requestId either reuses the
// confirmed result (remembered for a bounded window) or waits for the running
// submission to finish.
type postLog struct {
	mu      sync.Mutex
	entries map[string]*postEntry
	ttl     time.Duration
}

// postEntry is one submission's lifecycle. done is closed when the submission
// finishes; a nil result after done means it failed, and the entry has already
// been cleared so the next caller submits afresh.
type postEntry struct {
	done      chan struct{}
	result    *PostResult
	expiresAt time.Time
}

func newPostLog(ttl time.Duration) *postLog {
	return &postLog{entries: make(map[string]*postEntry), ttl: ttl}
}

// Do runs submit under key, collapsing duplicates: a result confirmed within
// its window is returned without running submit, a submission already in
// progress is joined, and a stale entry is replaced and run afresh by the
// current caller.
func (l *postLog) Do(ctx context.Context, key string, submit func(context.Context) (*PostResult, error)) (*PostResult, error) {
	for {
		l.mu.Lock()
		entry, ok := l.entries[key]
		if !ok {
			entry = &postEntry{done: make(chan struct{})}
			l.entries[key] = entry
			l.mu.Unlock()
			return l.run(ctx, key, entry, submit)
		}

		select {
		case <-entry.done:
			if entry.result != nil && time.Now().Before(entry.expiresAt) {
				l.mu.Unlock()
				return entry.result, nil
			}
			// Stale; clear it and take the lead on the next pass.
			delete(l.entries, key)
			l.mu.Unlock()
		default:
			l.mu.Unlock()
			select {
			case <-entry.done:
				if entry.result == nil {
					return nil, fmt.Errorf("shared submission for %s failed", key)
				}
				return entry.result, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// run executes the submission as the entry's leader and publishes the outcome
// to everyone waiting on it. Failures leave no trace, so a retry resubmits.
func (l *postLog) run(ctx context.Context, key string, entry *postEntry, submit func(context.Context) (*PostResult, error)) (*PostResult, error) {
	result, err := submit(ctx)

	l.mu.Lock()
	if err != nil {
		delete(l.entries, key)
	} else {
		entry.result = result
		entry.expiresAt = time.Now().Add(l.ttl)
		l.pruneLocked(time.Now())
	}
	close(entry.done)
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return result, nil
}

// pruneLocked drops finished entries past their window. Caller holds the lock.
func (l *postLog) pruneLocked(now time.Time) {
	for key, entry := range l.entries {
		select {
		case <-entry.done:
			if now.After(entry.expiresAt) {
				delete(l.entries, key)
			}
		default:
		}
	}
}
