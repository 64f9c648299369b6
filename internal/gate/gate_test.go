package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prJSON = `{"number": 1, "draft": false, "labels": [{"name": "target/master"}], "base": {"ref": "master"}}`

func TestPasses(t *testing.T) {
	testcases := []struct {
		name     string
		query    string
		expected bool
	}{
		{name: "notDraft", query: ".draft | not", expected: true},
		{name: "baseBranch", query: `.base.ref == "openwrt-23.05"`, expected: false},
		{name: "label", query: `[.labels[].name] | any(. == "target/master")`, expected: true},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.query)
			require.NoError(t, err)

			passes, err := g.Passes(context.Background(), []byte(prJSON))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, passes)
		})
	}
}

func TestPassesInvalidResults(t *testing.T) {
	testcases := []struct {
		name  string
		query string
	}{
		{name: "nonBool", query: ".number"},
		{name: "multipleResults", query: "true, false"},
		{name: "noResult", query: "empty"},
		{name: "runtimeError", query: ".number | keys"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.query)
			require.NoError(t, err)

			_, err = g.Passes(context.Background(), []byte(prJSON))
			require.Error(t, err)
		})
	}
}

func TestNewInvalidQuery(t *testing.T) {
	_, err := New(".draft |")
	require.Error(t, err)
}

func TestPassesEmptyDocument(t *testing.T) {
	g, err := New("true")
	require.NoError(t, err)

	_, err = g.Passes(context.Background(), nil)
	require.Error(t, err)
}
