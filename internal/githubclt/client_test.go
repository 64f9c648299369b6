package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
)

const pullRequestPayload = `{
  "number": 1234,
  "title": "ramips: add support for Foo Router",
  "state": "open",
  "mergeable": true,
  "maintainer_can_modify": true,
  "draft": false,
  "html_url": "https://github.com/openwrt/openwrt/pull/1234",
  "head": {
    "ref": "foo-router",
    "sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06",
    "user": {"login": "alice"},
    "repo": {
      "html_url": "https://github.com/alice/openwrt",
      "clone_url": "https://github.com/alice/openwrt.git"
    }
  }
}`

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clt, err := New("token", WithEnterpriseURLs(srv.URL, srv.URL+"/graphql"))
	require.NoError(t, err)

	return clt
}

func TestPullRequest(t *testing.T) {
	var authHeader string

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")

		if r.Method != http.MethodGet || r.URL.Path != "/repos/openwrt/openwrt/pulls/1234" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = io.WriteString(w, pullRequestPayload)
	})

	pr, err := clt.PullRequest(context.Background(), "openwrt", "openwrt", 1234)
	require.NoError(t, err)

	assert.Equal(t, "Bearer token", authHeader)
	assert.Equal(t, 1234, pr.Number)
	assert.True(t, pr.IsMergeable())
	assert.True(t, pr.MaintainerCanModify)
	assert.Equal(t, "alice", pr.HeadUser)
	assert.Equal(t, "foo-router", pr.HeadBranch)
	assert.Equal(t, "https://github.com/alice/openwrt", pr.HeadRepoURL)
	assert.Equal(t, "https://github.com/alice/openwrt.git", pr.HeadCloneURL)
	assert.Equal(t, "8ad9dec4298f6b8f020997373cf4fe22005f2c06", pr.HeadSHA)

	var prJSON map[string]any
	require.NoError(t, json.Unmarshal(pr.JSON, &prJSON))
	assert.Equal(t, true, prJSON["maintainer_can_modify"])
}

func TestPullRequestMergeableNotComputed(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		var pr map[string]any
		_ = json.Unmarshal([]byte(pullRequestPayload), &pr)
		pr["mergeable"] = nil

		_ = json.NewEncoder(w).Encode(pr)
	})

	pr, err := clt.PullRequest(context.Background(), "openwrt", "openwrt", 1234)
	require.NoError(t, err)
	assert.Nil(t, pr.Mergeable)
	assert.False(t, pr.IsMergeable())
}

func TestPullRequestNotFound(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "Not Found"}`)
	})

	_, err := clt.PullRequest(context.Background(), "openwrt", "openwrt", 1)
	require.Error(t, err)

	var retryableErr *ghmergeerr.RetryableError
	assert.False(t, errors.As(err, &retryableErr))
}

func TestWrapRetryableErrorsServerError(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := clt.CreateIssueComment(context.Background(), "openwrt", "openwrt", 1, "thanks")
	require.Error(t, err)

	var retryableErr *ghmergeerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestCreateCommentAndClose(t *testing.T) {
	var requests []recordedRequest

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})

		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id": 1}`)
		default:
			_, _ = io.WriteString(w, `{"number": 1234, "state": "closed"}`)
		}
	})

	comment := "Thanks! \"Quoted\" and\nmultiline"
	require.NoError(t, clt.CreateIssueComment(context.Background(), "openwrt", "openwrt", 1234, comment))
	require.NoError(t, clt.ClosePullRequest(context.Background(), "openwrt", "openwrt", 1234))

	require.Len(t, requests, 2)

	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.Equal(t, "/repos/openwrt/openwrt/issues/1234/comments", requests[0].Path)
	var commentBody map[string]string
	require.NoError(t, json.Unmarshal([]byte(requests[0].Body), &commentBody))
	assert.Equal(t, comment, commentBody["body"])

	assert.Equal(t, http.MethodPatch, requests[1].Method)
	assert.Equal(t, "/repos/openwrt/openwrt/pulls/1234", requests[1].Path)
	assert.JSONEq(t, `{"state": "closed"}`, requests[1].Body)
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// is the same then in github.com/shurcooL/graphql/graphql.go do()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(503)
	}))

	t.Cleanup(srv.Close)

	clt := Client{
		logger:     zap.L(),
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
	}

	s, err := clt.ReadyForMerge(context.Background(), "test", "test", 123)
	require.Error(t, err)
	assert.Nil(t, s)

	var retryableErr *ghmergeerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}
