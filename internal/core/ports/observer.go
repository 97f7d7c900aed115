package ports

import "github.com/ewilliams-labs/mend/internal/core/domain"

// SignalObserver receives engine outcomes for metrics.
type SignalObserver interface {
	EatingAnalyzed(result domain.EatingAnalysisResult)
	ReflectionAnalyzed(analysis domain.ReflectionAnalysis)
	FeedbackDecided(decision domain.FeedbackDecision, delivered bool)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) EatingAnalyzed(domain.EatingAnalysisResult) {}
func (NopObserver) ReflectionAnalyzed(domain.ReflectionAnalysis) {}
func (NopObserver) FeedbackDecided(domain.FeedbackDecision, bool) {}
