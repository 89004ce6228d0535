package consensus

import (
	"math"
	"testing"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

// buildChain fabricates a chain of n blocks at the given spacing, all
// carrying the same difficulty, efficiency and relevance scores.
func buildChain(n int, spacing time.Duration, difficulty int, efficiency, relevance float64) []model.Block {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chain := make([]model.Block, n)
	for i := range chain {
		chain[i] = model.Block{
			Index:          int64(i),
			Timestamp:      start.Add(time.Duration(i) * spacing),
			Difficulty:     difficulty,
			Efficiency:     efficiency,
			TotalRelevance: relevance,
		}
		if i > 0 {
			chain[i].PreviousHash = chain[i-1].Hash
		}
	}
	return chain
}

func TestCalculateDifficultyEmptyChain(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	if got := e.CalculateDifficulty(nil); got != DefaultConfig().MinDifficulty {
		t.Errorf("difficulty = %d, want minimum %d", got, DefaultConfig().MinDifficulty)
	}
}

func TestCalculateDifficultyShortChain(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	chain := buildChain(5, time.Minute, 7, 60, 50)
	if got := e.CalculateDifficulty(chain); got != 7 {
		t.Errorf("difficulty = %d, want latest difficulty 7 below the retarget window", got)
	}
}

func TestCalculateDifficultyOnTargetHolds(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	// Blocks landing exactly on target with neutral scores keep the
	// current difficulty.
	chain := buildChain(10, time.Minute, 5, 60, 50)
	if got := e.CalculateDifficulty(chain); got != 5 {
		t.Errorf("difficulty = %d, want 5 when blocks land on target", got)
	}
}

func TestCalculateDifficultyFastBlocksRaise(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	chain := buildChain(10, 30*time.Second, 5, 60, 50)
	if got := e.CalculateDifficulty(chain); got <= 5 {
		t.Errorf("difficulty = %d, fast blocks should raise it", got)
	}
}

func TestCalculateDifficultySlowBlocksLower(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	chain := buildChain(10, 2*time.Minute, 5, 60, 50)
	if got := e.CalculateDifficulty(chain); got >= 5 {
		t.Errorf("difficulty = %d, slow blocks should lower it", got)
	}
}

func TestCalculateDifficultyClampedToRange(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	// Pathologically fast blocks cannot exceed the maximum or the 4x
	// per-window swing.
	chain := buildChain(10, time.Second, 18, 60, 50)
	if got := e.CalculateDifficulty(chain); got > DefaultConfig().MaxDifficulty {
		t.Errorf("difficulty = %d exceeds maximum", got)
	}

	chain = buildChain(10, time.Hour, 2, 60, 50)
	if got := e.CalculateDifficulty(chain); got < DefaultConfig().MinDifficulty {
		t.Errorf("difficulty = %d below minimum", got)
	}
}

func TestCalculateDifficultySwingCap(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	chain := buildChain(10, 6*time.Second, 4, 60, 50)
	got := e.CalculateDifficulty(chain)
	if got > 16 {
		t.Errorf("difficulty = %d, a single retarget may at most quadruple 4", got)
	}
}

func TestCognitiveEfficiencyLowersDifficulty(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	neutral := buildChain(10, time.Minute, 10, 60, 50)
	efficient := buildChain(10, time.Minute, 10, 95, 50)

	base := e.CalculateDifficulty(neutral)
	eased := e.CalculateDifficulty(efficient)
	if eased > base {
		t.Errorf("high efficiency raised difficulty: %d > %d", eased, base)
	}
}

func TestCognitiveInefficiencyRaisesDifficulty(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	neutral := buildChain(10, time.Minute, 10, 60, 50)
	wasteful := buildChain(10, time.Minute, 10, 20, 50)

	base := e.CalculateDifficulty(neutral)
	raised := e.CalculateDifficulty(wasteful)
	if raised < base {
		t.Errorf("low efficiency lowered difficulty: %d < %d", raised, base)
	}
}

func TestMemoryPressureRaisesDifficulty(t *testing.T) {
	calm := NewEngine(DefaultConfig(), nil)
	pressured := NewEngine(DefaultConfig(), nil)
	pressured.SetMemoryPressure(0.9)

	chain := buildChain(10, 70*time.Second, 10, 60, 50)
	if pressured.CalculateDifficulty(chain) < calm.CalculateDifficulty(chain) {
		t.Error("memory pressure should never ease difficulty")
	}
}

func TestCalculateDifficultyDeterministic(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	chain := buildChain(10, 45*time.Second, 8, 85, 75)
	first := e.CalculateDifficulty(chain)
	for i := 0; i < 5; i++ {
		if got := e.CalculateDifficulty(chain); got != first {
			t.Fatalf("run %d produced %d, first run produced %d", i, got, first)
		}
	}
}

func TestValidateBlock(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	prev := &model.Block{Index: 4, Hash: "aaaa", Difficulty: 5}

	ok := &model.Block{Index: 5, PreviousHash: "aaaa", Difficulty: 5, Efficiency: 80}
	if err := e.ValidateBlock(ok, prev); err != nil {
		t.Errorf("valid block rejected: %v", err)
	}

	cases := []struct {
		name  string
		block model.Block
	}{
		{"broken linkage", model.Block{Index: 5, PreviousHash: "bbbb", Difficulty: 5, Efficiency: 80}},
		{"index gap", model.Block{Index: 7, PreviousHash: "aaaa", Difficulty: 5, Efficiency: 80}},
		{"difficulty jump", model.Block{Index: 5, PreviousHash: "aaaa", Difficulty: 8, Efficiency: 80}},
		{"efficiency out of range", model.Block{Index: 5, PreviousHash: "aaaa", Difficulty: 5, Efficiency: 120}},
		{"bad relevance impact", model.Block{
			Index: 5, PreviousHash: "aaaa", Difficulty: 5, Efficiency: 80,
			Transactions: []model.Transaction{{ID: "tx-1", RelevanceImpact: 150}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.ValidateBlock(&tc.block, prev); err == nil {
				t.Error("invalid block accepted")
			}
		})
	}
}

func TestBlockReward(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	block := &model.Block{
		Difficulty:     3,
		Efficiency:     100,
		TotalRelevance: 200,
		Transactions:   []model.Transaction{{ID: "a"}, {ID: "b"}},
	}
	// (50 + 10 + 5) * log2(4) = 130
	if got := e.BlockReward(block); got != 130 {
		t.Errorf("reward = %f, want 130", got)
	}

	empty := &model.Block{Difficulty: 1, Efficiency: 0}
	// (50 + 0 + 0) * log2(2) = 50
	if got := e.BlockReward(empty); got != 50 {
		t.Errorf("reward = %f, want 50", got)
	}
}

func TestChainWork(t *testing.T) {
	chain := []model.Block{
		{Difficulty: 2, Efficiency: 0},
		{Difficulty: 3, Efficiency: 100},
	}
	// 2^2*1.0 + 2^3*1.1 = 12.8
	if got := ChainWork(chain); math.Abs(got-12.8) > 1e-9 {
		t.Errorf("chain work = %f, want 12.8", got)
	}
	if ChainWork(nil) != 0 {
		t.Error("empty chain should carry no work")
	}
}

func TestShouldReorganize(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	current := buildChain(5, time.Minute, 4, 60, 50)
	longer := buildChain(7, time.Minute, 4, 60, 50)
	shorter := buildChain(3, time.Minute, 20, 100, 50)

	if !e.ShouldReorganize(current, longer) {
		t.Error("longer chain with more work should win")
	}
	if e.ShouldReorganize(current, shorter) {
		t.Error("shorter chain never wins regardless of work")
	}
	if e.ShouldReorganize(current, current) {
		t.Error("equal-length chain never wins")
	}
}

func TestNetworkHashRate(t *testing.T) {
	if NetworkHashRate(buildChain(1, time.Minute, 4, 60, 50), 100) != 0 {
		t.Error("single block chain has no measurable rate")
	}

	chain := buildChain(11, time.Minute, 4, 60, 50)
	// 2^4 * 10 blocks / 600s
	want := math.Pow(2, 4) * 10 / 600
	if got := NetworkHashRate(chain, 100); math.Abs(got-want) > 1e-9 {
		t.Errorf("hash rate = %f, want %f", got, want)
	}
}

func TestConsensusDataUpdates(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	if d := e.ConsensusData(); d.NetworkEfficiency != 100 {
		t.Errorf("initial network efficiency = %f, want 100", d.NetworkEfficiency)
	}

	e.UpdateData(func(d *Data) {
		d.ArchivalRate = 0.25
		d.ForgettingRate = 0.05
	})
	d := e.ConsensusData()
	if d.ArchivalRate != 0.25 || d.ForgettingRate != 0.05 {
		t.Errorf("update not applied: %+v", d)
	}
}
