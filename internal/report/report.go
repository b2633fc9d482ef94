// Package report renders the latest profile and quality score of a set of
// tables as JSON or as a standalone HTML page.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"dq/internal/errs"
	"dq/internal/ledger"
	"dq/internal/profile"
	"dq/internal/quality"
	"dq/internal/rules"
	"dq/internal/storage"
)

type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Pipeline    string          `json:"pipeline"`
	Tables      []TableReport   `json:"tables"`
	Rules       *rules.Report   `json:"rules,omitempty"`
	Summary     *ledger.Summary `json:"summary,omitempty"`
}

// TableReport is one table's latest run. Score is nil and Error set when the
// table has no stored profile.
type TableReport struct {
	Table   string                  `json:"table"`
	Score   *quality.Score          `json:"score,omitempty"`
	Columns []storage.ProfileRecord `json:"columns"`
	Error   string                  `json:"error,omitempty"`
}

type Builder struct {
	store  *profile.Store
	scorer *quality.Scorer
	now    func() time.Time
}

// Option customises a Builder.
type Option func(*Builder)

// WithClock replaces time.Now for the report timestamp.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(store *profile.Store, scorer *quality.Scorer, opts ...Option) *Builder {
	b := &Builder{store: store, scorer: scorer, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build collects the latest run of every table. Unprofiled tables are kept
// with an error so the report shows them; other failures abort.
func (b *Builder) Build(ctx context.Context, pipeline string, tables []string) (Report, error) {
	rep := Report{
		GeneratedAt: b.now().UTC(),
		Pipeline:    pipeline,
		Tables:      make([]TableReport, 0, len(tables)),
	}
	for _, t := range tables {
		tr := TableReport{Table: t, Columns: []storage.ProfileRecord{}}

		sc, err := b.scorer.Score(ctx, t)
		switch {
		case errs.IsInsufficientData(err):
			tr.Error = err.Error()
			rep.Tables = append(rep.Tables, tr)
			continue
		case err != nil:
			return Report{}, fmt.Errorf("report %s: %w", t, err)
		}
		tr.Score = &sc

		recs, err := b.store.Latest(ctx, t)
		if err != nil {
			return Report{}, fmt.Errorf("report %s: %w", t, err)
		}
		tr.Columns = recs
		rep.Tables = append(rep.Tables, tr)
	}
	return rep, nil
}

func WriteJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func WriteHTML(w io.Writer, rep Report) error {
	return page.Execute(w, rep)
}

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":   fmtPct,
	"num":   fmtNum,
	"str":   fmtStr,
	"int":   fmtInt,
	"score": func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) },
	"ts":    func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(pageHTML))

func fmtPct(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*p, 'f', 2, 64) + "%"
}

func fmtNum(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'g', 6, 64)
}

func fmtStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func fmtInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Data quality report: {{.Pipeline}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.fail { color: #b00; }
.pass { color: #070; }
</style>
</head>
<body>
<h1>Data quality report: {{.Pipeline}}</h1>
<p id="generated">Generated {{ts .GeneratedAt}}</p>
{{with .Summary}}
<section id="summary">
<h2>Pipeline summary (last {{.DaysBack}} days)</h2>
<p>{{.SuccessfulExecutions}} of {{.TotalExecutions}} steps succeeded ({{score .SuccessRate}}%), {{.TotalRecordsProcessed}} records processed.</p>
</section>
{{end}}
{{range .Tables}}
<section class="table-report" data-table="{{.Table}}">
<h2>{{.Table}}</h2>
{{if .Error}}<p class="fail error">{{.Error}}</p>{{end}}
{{with .Score}}
<table class="score">
<tr><th>Overall</th><td class="overall">{{score .Overall}}</td></tr>
<tr><th>Completeness</th><td class="completeness">{{score .Completeness}}</td></tr>
<tr><th>Uniqueness</th><td class="uniqueness">{{score .Uniqueness}}</td></tr>
<tr><th>Validity</th><td class="validity">{{score .Validity}}</td></tr>
<tr><th>Profiled</th><td>{{ts .ProfiledAt}} ({{.ColumnsProfiled}} columns)</td></tr>
</table>
{{if .Recommendations}}<ul class="recommendations">{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{end}}
{{if .Columns}}
<table class="columns">
<thead><tr><th>Column</th><th>Type</th><th>Category</th><th>Rows</th><th>Null %</th><th>Distinct %</th><th>Min</th><th>Max</th><th>Avg</th><th>Std dev</th><th>Min len</th><th>Max len</th></tr></thead>
<tbody>
{{range .Columns}}<tr data-column="{{.ColumnName}}"><td>{{.ColumnName}}</td><td>{{.DeclaredType}}</td><td>{{.DataTypeCategory}}</td><td>{{.TotalCount}}</td><td class="null-pct">{{pct .NullPercentage}}</td><td class="distinct-pct">{{pct .DistinctPercentage}}</td><td>{{str .MinValue}}</td><td>{{str .MaxValue}}</td><td>{{num .AvgValue}}</td><td>{{num .StdDev}}</td><td>{{int .MinLength}}</td><td>{{int .MaxLength}}</td></tr>
{{end}}
</tbody>
</table>
{{end}}
</section>
{{end}}
{{with .Rules}}
<section id="rules">
<h2>Rules ({{.Passed}} passed, {{.Failed}} failed)</h2>
<table>
<thead><tr><th>Rule</th><th>Type</th><th>Table</th><th>Observed</th><th>Threshold</th><th>Result</th></tr></thead>
<tbody>
{{range .Outcomes}}<tr data-rule="{{.Rule}}"><td>{{.Rule}}{{if .Critical}} (critical){{end}}</td><td>{{.Type}}</td><td>{{.Table}}</td><td>{{score .Observed}}</td><td>{{score .Threshold}}</td>{{if .Passed}}<td class="pass">pass</td>{{else}}<td class="fail" title="{{.Error}}">fail</td>{{end}}</tr>
{{end}}
</tbody>
</table>
</section>
{{end}}
</body>
</html>
`
