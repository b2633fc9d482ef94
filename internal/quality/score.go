// Package quality turns stored profiles into a table quality score and runs
// parametrised rule checks against live tables.
package quality

import (
	"context"
	"time"

	"dq/internal/errs"
	"dq/internal/metrics"
	"dq/internal/profile"
	"dq/internal/storage"
)

// Recommendation texts, in evaluation order.
const (
	RecommendNulls      = "High null percentage detected - review data completeness"
	RecommendUniqueness = "Low data uniqueness - check for duplicate records"
	RecommendCoverage   = "Limited column profiling - consider expanding data collection"
)

// Thresholds of the recommendation rules.
const (
	maxAvgNullPercentage     = 20.0
	minAvgDistinctPercentage = 50.0
	minProfiledColumns       = 5
)

// Score is a table's quality assessment over its latest profiling run. It is
// returned to the caller and never stored by this package.
type Score struct {
	Table           string    `json:"table_name"`
	ProfileID       string    `json:"profile_id"`
	ProfiledAt      time.Time `json:"profiled_at"`
	ColumnsProfiled int       `json:"columns_profiled"`

	Completeness float64 `json:"completeness_score"`
	Uniqueness   float64 `json:"uniqueness_score"`
	Validity     float64 `json:"validity_score"`
	Overall      float64 `json:"overall_quality_score"`

	// Means over columns whose percentage is defined; nil when none is.
	AvgNullPercentage     *float64 `json:"avg_null_percentage"`
	AvgDistinctPercentage *float64 `json:"avg_distinct_percentage"`

	Recommendations []string `json:"recommendations"`
}

type Scorer struct {
	store *profile.Store
}

func NewScorer(store *profile.Store) *Scorer {
	return &Scorer{store: store}
}

// Score reads the latest run of table and scores it. The sub-scores and
// overall score are published as metrics.
//
// errs.InsufficientDataError if the table has no stored profile.
func (s *Scorer) Score(ctx context.Context, table string) (Score, error) {
	recs, err := s.store.Latest(ctx, table)
	if err != nil {
		return Score{}, err
	}
	if len(recs) == 0 {
		return Score{}, &errs.InsufficientDataError{Table: table}
	}

	sc := ScoreRecords(table, recs)
	metrics.RecordQualityScore(table, "completeness", sc.Completeness)
	metrics.RecordQualityScore(table, "uniqueness", sc.Uniqueness)
	metrics.RecordQualityScore(table, "validity", sc.Validity)
	metrics.RecordQualityScore(table, "overall", sc.Overall)
	return sc, nil
}

// ScoreRecords computes a Score from one run's records.
//
// Undefined percentages (empty tables) follow SQL aggregate semantics: they
// are skipped by averages, fall to the lowest uniqueness bucket and to the
// lowest validity tier.
func ScoreRecords(table string, recs []storage.ProfileRecord) Score {
	sc := Score{
		Table:           table,
		ColumnsProfiled: len(recs),
		Recommendations: []string{},
	}
	if len(recs) > 0 {
		sc.ProfileID = recs[0].ProfileID
		sc.ProfiledAt = recs[0].Timestamp
	}

	var (
		completeness, uniqueness, validity mean
		nullPct, distinctPct               mean
	)
	for _, r := range recs {
		if r.NullPercentage != nil {
			completeness.add(100 - *r.NullPercentage)
			nullPct.add(*r.NullPercentage)
		}
		if r.DistinctPercentage != nil {
			distinctPct.add(*r.DistinctPercentage)
		}
		uniqueness.add(uniquenessBucket(r.DistinctPercentage))
		validity.add(validityTier(profile.Category(r.DataTypeCategory), r.NullPercentage))
	}

	sc.Completeness = completeness.value()
	sc.Uniqueness = uniqueness.value()
	sc.Validity = validity.value()
	sc.Overall = (sc.Completeness + sc.Uniqueness + sc.Validity) / 3
	sc.AvgNullPercentage = nullPct.ptr()
	sc.AvgDistinctPercentage = distinctPct.ptr()

	if p := sc.AvgNullPercentage; p != nil && *p > maxAvgNullPercentage {
		sc.Recommendations = append(sc.Recommendations, RecommendNulls)
	}
	if p := sc.AvgDistinctPercentage; p != nil && *p < minAvgDistinctPercentage {
		sc.Recommendations = append(sc.Recommendations, RecommendUniqueness)
	}
	if sc.ColumnsProfiled < minProfiledColumns {
		sc.Recommendations = append(sc.Recommendations, RecommendCoverage)
	}
	return sc
}

func uniquenessBucket(distinctPct *float64) float64 {
	if distinctPct == nil {
		return 40
	}
	switch p := *distinctPct; {
	case p > 95:
		return 100
	case p > 80:
		return 80
	case p > 50:
		return 60
	default:
		return 40
	}
}

func validityTier(cat profile.Category, nullPct *float64) float64 {
	if nullPct == nil {
		return 30
	}
	switch p := *nullPct; {
	case cat.WellTyped() && p < 20:
		return 100
	case p < 50:
		return 70
	default:
		return 30
	}
}

// mean is a running arithmetic mean.
type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func (m mean) ptr() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.value()
	return &v
}
