// Package metrics pushes the outcome of a merge run to a prometheus
// Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricNamespace = "ghmerge"

const (
	exitCodeMetricName      = "last_run_exit_code"
	durationMetricName      = "last_run_duration_seconds"
	mergedCommitsMetricName = "last_run_merged_commits"
	lastRunMetricName       = "last_run_timestamp_seconds"
	stepMetricName          = "last_run_step"
)

const (
	repositoryLabel = "repository"
	baseBranchLabel = "base_branch"
	stepLabel       = "step"
)

const pushTimeout = 10 * time.Second

// Run is the outcome of a merge run.
type Run struct {
	Repository    string
	BaseBranch    string
	Step          string
	ExitCode      int
	Duration      time.Duration
	MergedCommits int
	Finished      time.Time
}

// Pusher sends the metrics of a Run to a Pushgateway.
type Pusher struct {
	url        string
	job        string
	httpClient *http.Client
}

func NewPusher(pushgatewayURL, job string) *Pusher {
	return &Pusher{
		url:        pushgatewayURL,
		job:        job,
		httpClient: &http.Client{Timeout: pushTimeout},
	}
}

func newRegistry(run *Run) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      exitCodeMetricName,
		Help:      "exit code of the last merge run",
	}).Set(float64(run.ExitCode))

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      durationMetricName,
		Help:      "duration of the last merge run",
	}).Set(run.Duration.Seconds())

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      mergedCommitsMetricName,
		Help:      "count of commits that the last merge run added to the base branch",
	}).Set(float64(run.MergedCommits))

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      lastRunMetricName,
		Help:      "unix time when the last merge run finished",
	}).Set(float64(run.Finished.Unix()))

	factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      stepMetricName,
		Help:      "workflow step that the last merge run reached, the value is always 1",
	}, []string{stepLabel}).WithLabelValues(run.Step).Set(1)

	return reg
}

// Push replaces the metrics of the previous run of the same repository and
// base branch in the Pushgateway.
func (p *Pusher) Push(ctx context.Context, run *Run) error {
	err := push.New(p.url, p.job).
		Client(p.httpClient).
		Gatherer(newRegistry(run)).
		Grouping(repositoryLabel, run.Repository).
		Grouping(baseBranchLabel, run.BaseBranch).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s failed: %w", p.url, err)
	}

	return nil
}
