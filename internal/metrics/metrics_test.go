package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() *Run {
	return &Run{
		Repository:    "openwrt/openwrt",
		BaseBranch:    "master",
		Step:          "done",
		ExitCode:      0,
		Duration:      1500 * time.Millisecond,
		MergedCommits: 3,
		Finished:      time.Unix(1700000000, 0),
	}
}

func TestRegistryContainsRunMetrics(t *testing.T) {
	reg := newRegistry(testRun())

	cnt, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, cnt)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP ghmerge_last_run_merged_commits count of commits that the last merge run added to the base branch
# TYPE ghmerge_last_run_merged_commits gauge
ghmerge_last_run_merged_commits 3
# HELP ghmerge_last_run_step workflow step that the last merge run reached, the value is always 1
# TYPE ghmerge_last_run_step gauge
ghmerge_last_run_step{step="done"} 1
`), "ghmerge_last_run_merged_commits", "ghmerge_last_run_step")
	assert.NoError(t, err)
}

func TestPushUsesJobAndGrouping(t *testing.T) {
	var method, path string
	var bodyLen int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		bodyLen = len(body)

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	err := NewPusher(srv.URL, "ghmerge").Push(context.Background(), testRun())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/ghmerge/"), "unexpected path: %s", path)
	assert.Contains(t, path, "/base_branch/master")
	assert.Positive(t, bodyLen)
}

func TestPushFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	err := NewPusher(srv.URL, "ghmerge").Push(context.Background(), testRun())
	assert.Error(t, err)
}
