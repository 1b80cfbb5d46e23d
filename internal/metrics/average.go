package metrics

import (
	"math"

	"github.com/shyim/lighthouse-runner/internal/models"
)

// ScoreDisplayModeNumeric marks an audit whose numeric value is meaningful.
const ScoreDisplayModeNumeric = "numeric"

// Average computes the arithmetic mean of each metric over the samples whose
// scoreDisplayMode is "numeric". The unit is copied from the first sample
// whether or not that sample was counted. A metric with no counted samples,
// including every metric of an empty sequence, averages to NaN.
func Average(samples []models.MetricSet) models.AveragedMetricSet {
	var averaged models.AveragedMetricSet

	for _, key := range models.MetricKeys {
		var sum float64
		var count int

		var unit string
		if len(samples) > 0 {
			if first := samples[0].Get(key); first != nil {
				unit = first.NumericUnit
			}
		}

		for _, sample := range samples {
			m := sample.Get(key)
			if m == nil || m.ScoreDisplayMode != ScoreDisplayModeNumeric || m.NumericValue == nil {
				continue
			}
			sum += *m.NumericValue
			count++
		}

		avg := math.NaN()
		if count > 0 {
			avg = sum / float64(count)
		}

		averaged.Set(key, models.AveragedMetric{
			AverageNumericValue: avg,
			NumericUnit:         unit,
		})
	}

	return averaged
}

// Summarize averages every page of a results document.
func Summarize(results models.Results) models.Summary {
	summary := make(models.Summary, 0, len(results))
	for _, page := range results {
		summary = append(summary, models.PageSummary{
			Key:     page.Key,
			Average: Average(page.Samples),
		})
	}
	return summary
}
