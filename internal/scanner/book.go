// Package scanner keeps the in-memory view of the protocol's unsafe loans
// fresh. The Book is the shared handoff surface between the scan loop
// (writer) and the liquidation loop (reader), each running in its own
// goroutine.
package scanner

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"margincall/internal/domain"
)

// Book holds the current scan state: all open positions seen this cycle and
// the subset that is liquidatable right now. Positions are rebuilt every
// cycle; liquidation candidates survive cycle resets and are only dropped
// when a dispatch claims them.
type Book struct {
	mu           sync.Mutex
	positions    map[common.Hash]domain.Position
	liquidations map[common.Hash]domain.Position
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		positions:    make(map[common.Hash]domain.Position),
		liquidations: make(map[common.Hash]domain.Position),
	}
}

// ApplyPage merges one scan page. Positions merge insert-only (an entry
// seen earlier this cycle keeps its first-seen data); liquidatable entries
// upsert into the candidate set so candidates always carry the freshest
// margin numbers. Returns how many positions were newly inserted.
func (b *Book) ApplyPage(page []domain.Position) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	inserted := 0
	for _, p := range page {
		if _, seen := b.positions[p.LoanID]; !seen {
			b.positions[p.LoanID] = p
			inserted++
		}
		if p.Liquidatable() {
			b.liquidations[p.LoanID] = p
		}
	}
	return inserted
}

// ResetPositions clears the position map at the end of a scan cycle. The
// candidate set is deliberately left alone: a candidate is only removed by
// a dispatch claim, never by a rescan.
func (b *Book) ResetPositions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[common.Hash]domain.Position)
}

// Candidates returns a snapshot of the current liquidation candidates.
func (b *Book) Candidates() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.liquidations))
	for _, p := range b.liquidations {
		out = append(out, p)
	}
	return out
}

// Claim removes a candidate for dispatch. The bool result makes the removal
// exactly-once: of two racing claimers only one sees true.
func (b *Book) Claim(loanID common.Hash) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.liquidations[loanID]
	if !ok {
		return domain.Position{}, false
	}
	delete(b.liquidations, loanID)
	return p, true
}

// Stats reports the current position and candidate counts.
func (b *Book) Stats() (positions, candidates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions), len(b.liquidations)
}
