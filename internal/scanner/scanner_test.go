package scanner

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"margincall/internal/domain"
)

type pageResult struct {
	page []domain.Position
	err  error
}

// scriptedSource serves a fixed sequence of pages, records every requested
// cursor, and blocks once the script runs out so the test can stop the loop.
type scriptedSource struct {
	mu     sync.Mutex
	script []pageResult
	calls  []int64
	once   sync.Once
	done   chan struct{}
}

func newScriptedSource(script ...pageResult) *scriptedSource {
	return &scriptedSource{script: script, done: make(chan struct{})}
}

func (s *scriptedSource) ActivePositions(ctx context.Context, start, _ *big.Int) ([]domain.Position, error) {
	s.mu.Lock()
	if len(s.script) == 0 {
		s.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.calls = append(s.calls, start.Int64())
	r := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()
	return r.page, r.err
}

func (s *scriptedSource) cursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.calls...)
}

func runScanner(t *testing.T, book *Book, src *scriptedSource, pageSize int64) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(book, src, Config{
		PageSize:      pageSize,
		PageDelay:     time.Millisecond,
		RoundInterval: time.Millisecond,
	}, slog.Default())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-src.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not consume the script in time")
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestCursorAdvancesByPageSize(t *testing.T) {
	src := newScriptedSource(
		pageResult{page: []domain.Position{pos(1, 0), pos(2, 0)}},
		pageResult{page: []domain.Position{pos(3, 0), pos(4, 0)}},
		pageResult{page: []domain.Position{pos(5, 0)}},
		pageResult{}, // empty page ends the cycle
	)
	book := NewBook()
	runScanner(t, book, src, 2)

	want := []int64{0, 2, 4, 6}
	got := src.cursors()
	if len(got) < len(want) {
		t.Fatalf("cursors = %v, want prefix %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("cursor[%d] = %d, want %d (all: %v)", i, got[i], w, got)
		}
	}
}

func TestCycleEndClearsPositionsKeepsCandidates(t *testing.T) {
	src := newScriptedSource(
		pageResult{page: []domain.Position{pos(1, 50), pos(2, 0)}},
		pageResult{}, // cycle end
	)
	book := NewBook()
	runScanner(t, book, src, 2)

	positions, candidates := book.Stats()
	if positions != 0 {
		t.Fatalf("positions after cycle = %d, want 0", positions)
	}
	if candidates != 1 {
		t.Fatalf("candidates after cycle = %d, want 1", candidates)
	}
}

func TestQueryErrorEndsCycle(t *testing.T) {
	src := newScriptedSource(
		pageResult{page: []domain.Position{pos(1, 50)}},
		pageResult{err: errors.New("rpc: connection refused")},
		// Next cycle starts over from cursor 0.
		pageResult{page: []domain.Position{pos(2, 0)}},
		pageResult{},
	)
	book := NewBook()
	runScanner(t, book, src, 1)

	got := src.cursors()
	want := []int64{0, 1, 0, 1}
	if len(got) < len(want) {
		t.Fatalf("cursors = %v, want prefix %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("cursor[%d] = %d, want %d (all: %v)", i, got[i], w, got)
		}
	}

	// The failed cycle still kept the candidate found before the error.
	if _, candidates := book.Stats(); candidates != 1 {
		t.Fatalf("candidates = %d, want 1", candidates)
	}
}
