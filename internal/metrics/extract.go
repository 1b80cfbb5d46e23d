// Package metrics reshapes Lighthouse audit output into the six metrics we
// track and averages them over repeated runs.
package metrics

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/shyim/lighthouse-runner/internal/models"
)

// auditKeys maps the short metric key to the Lighthouse audit id.
var auditKeys = map[string]string{
	"fcp": "first-contentful-paint",
	"lcp": "largest-contentful-paint",
	"si":  "speed-index",
	"tbt": "total-blocking-time",
	"mpf": "max-potential-fid",
	"cls": "cumulative-layout-shift",
}

// Extract picks the six tracked audits out of a Lighthouse "audits" object,
// keeping only their numeric value and unit. Missing audits are left nil, and
// a value or unit the audit does not carry is left unset.
func Extract(audits json.RawMessage) models.MetricSet {
	var set models.MetricSet
	if !gjson.ValidBytes(audits) {
		return set
	}

	for _, key := range models.MetricKeys {
		audit := gjson.GetBytes(audits, gjson.Escape(auditKeys[key]))
		if !audit.Exists() || !audit.IsObject() {
			continue
		}

		m := &models.Metric{
			NumericUnit:      audit.Get("numericUnit").String(),
			ScoreDisplayMode: audit.Get("scoreDisplayMode").String(),
		}
		if value := audit.Get("numericValue"); value.Type == gjson.Number {
			v := value.Float()
			m.NumericValue = &v
		}
		set.Set(key, m)
	}

	return set
}
