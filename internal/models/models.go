package models

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

// Report is a raw Lighthouse result (LHR) as emitted by the CLI.
type Report json.RawMessage

// Audits returns the raw "audits" object of the report.
func (r Report) Audits() json.RawMessage {
	audits := gjson.GetBytes(r, "audits")
	if !audits.Exists() {
		return nil
	}
	return json.RawMessage(audits.Raw)
}

// RuntimeError returns the code of a top-level Lighthouse runtime error, if any.
func (r Report) RuntimeError() string {
	return gjson.GetBytes(r, "runtimeError.code").String()
}

// Metric is one extracted measurement. Fields absent from the audit stay
// absent when written. ScoreDisplayMode is kept in memory for averaging but is
// not part of the persisted shape.
type Metric struct {
	NumericValue     *float64 `json:"numericValue,omitempty"`
	NumericUnit      string   `json:"numericUnit,omitempty"`
	ScoreDisplayMode string   `json:"-"`
}

// MetricSet holds the six metrics of one audit run. A nil entry means the
// audit was absent from the report.
type MetricSet struct {
	FCP *Metric `json:"fcp,omitempty"`
	LCP *Metric `json:"lcp,omitempty"`
	SI  *Metric `json:"si,omitempty"`
	TBT *Metric `json:"tbt,omitempty"`
	MPF *Metric `json:"mpf,omitempty"`
	CLS *Metric `json:"cls,omitempty"`
}

// MetricKeys lists the short metric keys in output order.
var MetricKeys = []string{"fcp", "lcp", "si", "tbt", "mpf", "cls"}

// Get returns the metric stored under a short key.
func (s MetricSet) Get(key string) *Metric {
	switch key {
	case "fcp":
		return s.FCP
	case "lcp":
		return s.LCP
	case "si":
		return s.SI
	case "tbt":
		return s.TBT
	case "mpf":
		return s.MPF
	case "cls":
		return s.CLS
	}
	return nil
}

// Set stores a metric under a short key. Unknown keys are ignored.
func (s *MetricSet) Set(key string, m *Metric) {
	switch key {
	case "fcp":
		s.FCP = m
	case "lcp":
		s.LCP = m
	case "si":
		s.SI = m
	case "tbt":
		s.TBT = m
	case "mpf":
		s.MPF = m
	case "cls":
		s.CLS = m
	}
}

// AveragedMetric is the mean of one metric over a sample sequence.
type AveragedMetric struct {
	AverageNumericValue float64 `json:"averageNumericValue"`
	NumericUnit         string  `json:"numericUnit"`
}

// MarshalJSON writes NaN averages as null since JSON has no NaN.
func (a AveragedMetric) MarshalJSON() ([]byte, error) {
	var value any = a.AverageNumericValue
	if math.IsNaN(a.AverageNumericValue) || math.IsInf(a.AverageNumericValue, 0) {
		value = nil
	}
	return json.Marshal(struct {
		AverageNumericValue any    `json:"averageNumericValue"`
		NumericUnit         string `json:"numericUnit"`
	}{value, a.NumericUnit})
}

type AveragedMetricSet struct {
	FCP AveragedMetric `json:"fcp"`
	LCP AveragedMetric `json:"lcp"`
	SI  AveragedMetric `json:"si"`
	TBT AveragedMetric `json:"tbt"`
	MPF AveragedMetric `json:"mpf"`
	CLS AveragedMetric `json:"cls"`
}

// Set stores an averaged metric under a short key. Unknown keys are ignored.
func (s *AveragedMetricSet) Set(key string, m AveragedMetric) {
	switch key {
	case "fcp":
		s.FCP = m
	case "lcp":
		s.LCP = m
	case "si":
		s.SI = m
	case "tbt":
		s.TBT = m
	case "mpf":
		s.MPF = m
	case "cls":
		s.CLS = m
	}
}

// PageResults is the sample sequence collected for one page.
type PageResults struct {
	Key     string
	Samples []MetricSet
}

// Results is the full results document: one sample sequence per page, written
// as a JSON object whose keys keep the configured page order.
type Results []PageResults

// Append adds a sample to the sequence stored under key, creating it if needed.
func (r *Results) Append(key string, sample MetricSet) {
	for i := range *r {
		if (*r)[i].Key == key {
			(*r)[i].Samples = append((*r)[i].Samples, sample)
			return
		}
	}
	*r = append(*r, PageResults{Key: key, Samples: []MetricSet{sample}})
}

func (r Results) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(r), func(i int) (string, any) {
		samples := r[i].Samples
		if samples == nil {
			samples = []MetricSet{}
		}
		return r[i].Key, samples
	})
}

// PageSummary is the averaged metric set for one page.
type PageSummary struct {
	Key     string
	Average AveragedMetricSet
}

// Summary maps page keys to averaged metric sets, in page order.
type Summary []PageSummary

func (s Summary) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(s), func(i int) (string, any) {
		return s[i].Key, s[i].Average
	})
}

func marshalOrdered(n int, entry func(i int) (string, any)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, value := entry(i)
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
