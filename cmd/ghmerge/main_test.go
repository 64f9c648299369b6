package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt/ghmerge/internal/cfg"
)

func TestGraphQLURL(t *testing.T) {
	assert.Equal(t, "https://ghe.example.com/api/graphql", graphQLURL("https://ghe.example.com/api/v3/"))
	assert.Equal(t, "https://ghe.example.com/api/graphql", graphQLURL("https://ghe.example.com/api/v3"))
	assert.Equal(t, "http://127.0.0.1:8080/graphql", graphQLURL("http://127.0.0.1:8080/"))
}

func TestParsePositional(t *testing.T) {
	testcases := []struct {
		name       string
		positional []string
		prID       string
		branch     string
		dryRun     bool
		expectErr  bool
	}{
		{name: "noArgs", positional: nil, expectErr: true},
		{name: "tooManyArgs", positional: []string{"1", "master", "y", "x"}, expectErr: true},
		{name: "prOnly", positional: []string{"1234"}, prID: "1234", branch: "master"},
		{name: "branch", positional: []string{"1234", "openwrt-23.05"}, prID: "1234", branch: "openwrt-23.05"},
		{name: "emptyBranch", positional: []string{"1234", ""}, prID: "1234", branch: "master"},
		{name: "dryRun", positional: []string{"1234", "main", "1"}, prID: "1234", branch: "main", dryRun: true},
		{name: "emptyDryRun", positional: []string{"1234", "main", ""}, prID: "1234", branch: "main"},
		{name: "malformedIDIsPassedThrough", positional: []string{"abc"}, prID: "abc", branch: "master"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			prID, branch, dryRun, err := parsePositional(tc.positional, "master")
			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.prID, prID)
			assert.Equal(t, tc.branch, branch)
			assert.Equal(t, tc.dryRun, dryRun)
		})
	}
}

func TestPrintConfigHidesToken(t *testing.T) {
	config := cfg.Default()
	config.GithubAPIToken = "ghp_secret"

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, config))

	assert.NotContains(t, buf.String(), "ghp_secret")
	assert.Equal(t, "ghp_secret", config.GithubAPIToken)

	printed, err := cfg.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, "**hidden**", printed.GithubAPIToken)
	assert.Equal(t, config.Repository, printed.Repository)
	assert.Equal(t, config.ClosingComment, printed.ClosingComment)
}
