package githubclt

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryClientDoesNotModify(t *testing.T) {
	var methods []string

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		_, _ = io.WriteString(w, pullRequestPayload)
	})

	dryClt := NewDryClient(clt)

	pr, err := dryClt.PullRequest(context.Background(), "openwrt", "openwrt", 1234)
	require.NoError(t, err)
	assert.Equal(t, "alice", pr.HeadUser)

	require.NoError(t, dryClt.CreateIssueComment(context.Background(), "openwrt", "openwrt", 1234, "thanks"))
	require.NoError(t, dryClt.ClosePullRequest(context.Background(), "openwrt", "openwrt", 1234))

	assert.Equal(t, []string{http.MethodGet}, methods)
}
