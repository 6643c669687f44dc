// Package report summarises alert history for dashboards: aggregate
// statistics over fall durations and a rendered alerts-per-day chart.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/ashgrove-care/carewatch/internal/store"
)

// AlertSummary holds aggregate statistics over fall-alert durations in a
// time range. Durations measure ground posture before the alert fired, so
// they are bounded below by the configured threshold.
type AlertSummary struct {
	TotalCount     int     `json:"total_count"`
	MeanDurationS  float64 `json:"mean_duration_s"`
	P50DurationS   float64 `json:"p50_duration_s"`
	P95DurationS   float64 `json:"p95_duration_s"`
	MaxDurationS   float64 `json:"max_duration_s"`
	StdDevDuration float64 `json:"stddev_duration_s"`
}

// Summarise computes aggregate statistics over the given durations
// (seconds). An empty input yields a zero summary.
func Summarise(durations []float64) AlertSummary {
	summary := AlertSummary{TotalCount: len(durations)}
	if len(durations) == 0 {
		return summary
	}

	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	summary.MeanDurationS = stat.Mean(sorted, nil)
	summary.P50DurationS = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	summary.P95DurationS = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	summary.MaxDurationS = sorted[len(sorted)-1]
	summary.StdDevDuration = stat.StdDev(sorted, nil)
	return summary
}

// RenderAlertsChart writes an HTML bar chart of alerts per day.
func RenderAlertsChart(w io.Writer, counts []store.DayCount) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Fall alerts per day",
			Subtitle: "Escalated fall events recorded by CareWatch",
		}),
	)

	days := make([]string, 0, len(counts))
	values := make([]opts.BarData, 0, len(counts))
	for _, dc := range counts {
		days = append(days, dc.Day)
		values = append(values, opts.BarData{Value: dc.Count})
	}

	bar.SetXAxis(days).AddSeries("alerts", values)

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("failed to render alerts chart: %w", err)
	}
	return nil
}
