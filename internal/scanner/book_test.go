package scanner

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"margincall/internal/domain"
)

func pos(id byte, maxLiquidatable int64) domain.Position {
	return domain.Position{
		LoanID:          common.Hash{id},
		Principal:       big.NewInt(1000),
		Collateral:      big.NewInt(2000),
		MaxLiquidatable: big.NewInt(maxLiquidatable),
		MaxSeizable:     big.NewInt(maxLiquidatable * 2),
	}
}

func TestApplyPageInsertOnly(t *testing.T) {
	b := NewBook()

	first := pos(1, 0)
	first.Principal = big.NewInt(111)
	if got := b.ApplyPage([]domain.Position{first, pos(2, 0)}); got != 2 {
		t.Fatalf("inserted = %d, want 2", got)
	}

	// Re-seeing loan 1 with different data must not overwrite it.
	second := pos(1, 0)
	second.Principal = big.NewInt(999)
	if got := b.ApplyPage([]domain.Position{second, pos(3, 0)}); got != 1 {
		t.Fatalf("inserted = %d, want 1", got)
	}

	positions, _ := b.Stats()
	if positions != 3 {
		t.Fatalf("positions = %d, want 3", positions)
	}
}

func TestApplyPageUpsertsCandidates(t *testing.T) {
	b := NewBook()
	b.ApplyPage([]domain.Position{pos(1, 50), pos(2, 0)})

	// A rescan refreshes the candidate's numbers even though the position
	// map keeps the first-seen entry.
	b.ApplyPage([]domain.Position{pos(1, 75)})

	got := b.Candidates()
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	if got[0].MaxLiquidatable.Int64() != 75 {
		t.Fatalf("candidate maxLiquidatable = %s, want 75", got[0].MaxLiquidatable)
	}
}

func TestResetKeepsCandidates(t *testing.T) {
	b := NewBook()
	b.ApplyPage([]domain.Position{pos(1, 50), pos(2, 0)})

	b.ResetPositions()

	positions, candidates := b.Stats()
	if positions != 0 {
		t.Fatalf("positions after reset = %d, want 0", positions)
	}
	if candidates != 1 {
		t.Fatalf("candidates after reset = %d, want 1", candidates)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	b := NewBook()
	b.ApplyPage([]domain.Position{pos(1, 50)})

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan domain.Position, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, ok := b.Claim(common.Hash{1}); ok {
				wins <- p
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("claim succeeded %d times, want exactly 1", count)
	}
	if _, candidates := b.Stats(); candidates != 0 {
		t.Fatalf("candidates after claim = %d, want 0", candidates)
	}
}
