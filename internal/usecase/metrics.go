package usecase

import "context"

// MetricsSummary represents aggregated diagnosis insights.
type MetricsSummary struct {
	TotalDiagnoses    int64   `json:"total_diagnoses"`
	DefiniteDiagnoses int64   `json:"definite_diagnoses"`
	DefiniteRate      float64 `json:"definite_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates diagnosis metrics from persisted history.
func (uc *DiagnosisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}

	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalDiagnoses:    aggregation.TotalCount,
		DefiniteDiagnoses: aggregation.DefiniteCount,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.TotalCount > 0 {
		summary.DefiniteRate = float64(aggregation.DefiniteCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
