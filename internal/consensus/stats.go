package consensus

import (
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

// statsWindow bounds the number of recent blocks folded into averages.
const statsWindow = 50

// Stats summarizes recent consensus behavior.
type Stats struct {
	AverageDifficulty       float64    `json:"averageDifficulty"`
	AverageBlockTime        float64    `json:"averageBlockTimeMs"`
	AverageMemoryEfficiency float64    `json:"averageMemoryEfficiency"`
	AverageRelevanceScore   float64    `json:"averageRelevanceScore"`
	HashRate                float64    `json:"hashRate"`
	LastAdjustment          *time.Time `json:"lastAdjustment,omitempty"`
}

// Stats aggregates the most recent blocks. An empty chain yields zero
// values.
func (e *Engine) Stats(chain []model.Block) Stats {
	if len(chain) == 0 {
		return Stats{}
	}

	window := chain
	if len(window) > statsWindow {
		window = window[len(window)-statsWindow:]
	}

	var s Stats
	var diffSum, effSum, relSum float64
	for _, b := range window {
		diffSum += float64(b.Difficulty)
		effSum += b.Efficiency
		relSum += b.TotalRelevance
	}
	n := float64(len(window))
	s.AverageDifficulty = diffSum / n
	s.AverageMemoryEfficiency = effSum / n
	s.AverageRelevanceScore = relSum / n

	if len(window) > 1 {
		total := window[len(window)-1].Timestamp.Sub(window[0].Timestamp)
		s.AverageBlockTime = float64(total.Milliseconds()) / float64(len(window)-1)
	}

	s.HashRate = NetworkHashRate(chain, 100)

	if len(chain) >= e.Config().AdjustmentInterval {
		t := chain[len(chain)-1].Timestamp
		s.LastAdjustment = &t
	}
	return s
}

// TrendReport compares the two halves of a recent block window to spot
// drift in memory behavior.
type TrendReport struct {
	EfficiencyTrend float64 `json:"efficiencyTrend"`
	RelevanceTrend  float64 `json:"relevanceTrend"`
	MemoryPressure  float64 `json:"memoryPressure"`
	Recommendation  string  `json:"recommendation"`
}

// AnalyzeTrends inspects the last windowSize blocks. A chain shorter
// than the window yields a neutral report.
func AnalyzeTrends(chain []model.Block, windowSize int) TrendReport {
	if len(chain) < windowSize {
		return TrendReport{Recommendation: "insufficient data for analysis"}
	}

	window := chain[len(chain)-windowSize:]
	first := window[:windowSize/2]
	second := window[windowSize/2:]

	avg := func(blocks []model.Block, pick func(model.Block) float64) float64 {
		var sum float64
		for _, b := range blocks {
			sum += pick(b)
		}
		return sum / float64(len(blocks))
	}

	efficiency := func(b model.Block) float64 { return b.Efficiency }
	relevance := func(b model.Block) float64 { return b.TotalRelevance }

	report := TrendReport{
		EfficiencyTrend: avg(second, efficiency) - avg(first, efficiency),
		RelevanceTrend:  avg(second, relevance) - avg(first, relevance),
		MemoryPressure:  (100 - window[len(window)-1].Efficiency) / 100,
	}

	switch {
	case report.EfficiencyTrend < -10:
		report.Recommendation = "memory efficiency declining, consider increasing archival rate"
	case report.EfficiencyTrend > 10:
		report.Recommendation = "memory efficiency improving, current strategy is effective"
	case report.MemoryPressure > 0.7:
		report.Recommendation = "high memory pressure, immediate archival recommended"
	case report.RelevanceTrend < -20:
		report.Recommendation = "data relevance declining, review retention policies"
	default:
		report.Recommendation = "memory management is stable"
	}
	return report
}
