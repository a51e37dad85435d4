package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewMultiLimiter()
	limiter.AddLimiter(ratelimit.LimiterGitHub, 1000, 1000)
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	return NewWithBaseURL(server.URL, "", limiter, log), server
}

func TestRegisterCreatesHook(t *testing.T) {
	assert := assert.New(t)

	var gotPath string
	var gotBody createHookRequest
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(hookResponse{ID: 77})
	}))

	reg, err := p.Register(context.Background(),
		"https://github.com/ex/r", "https://agent.example.com/webhooks/gh", "s3cret",
		models.JSON{"token": "tok"})
	require.NoError(t, err)

	assert.Equal("77", reg.ExternalID)
	assert.Equal("/repos/ex/r/hooks", gotPath)
	assert.Equal("web", gotBody.Name)
	assert.Equal([]string{"push", "pull_request"}, gotBody.Events)
	assert.Equal("s3cret", gotBody.Config.Secret)
	assert.Equal("https://agent.example.com/webhooks/gh", gotBody.Config.URL)
}

func TestRegisterRejectsNonRepoIdentifier(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := p.Register(context.Background(), "f1", "https://cb", "s", models.JSON{"token": "tok"})
	assert.Error(t, err)
}

func TestRegisterWithoutToken(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := p.Register(context.Background(), "https://github.com/ex/r", "https://cb", "s", nil)
	assert.ErrorIs(t, err, provider.ErrUnauthorized)
}

func TestRegisterUpstreamFailure(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	_, err := p.Register(context.Background(), "https://github.com/ex/r", "https://cb", "s", models.JSON{"token": "tok"})
	assert.Error(t, err)
}

func TestDeregisterDeletesHook(t *testing.T) {
	assert := assert.New(t)

	var gotMethod, gotPath string
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	err := p.Deregister(context.Background(), "77", "https://github.com/ex/r", models.JSON{"token": "tok"})
	require.NoError(t, err)
	assert.Equal(http.MethodDelete, gotMethod)
	assert.Equal("/repos/ex/r/hooks/77", gotPath)
}

func TestDeregisterGoneHookIsIdempotent(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	err := p.Deregister(context.Background(), "77", "https://github.com/ex/r", models.JSON{"token": "tok"})
	assert.NoError(t, err)
}

func TestVerifyCredentials(t *testing.T) {
	p, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	ok, err := p.VerifyCredentials(context.Background(), models.JSON{"token": "tok"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepoPath(t *testing.T) {
	assert := assert.New(t)

	repo, err := repoPath("https://github.com/ex/r")
	assert.NoError(err)
	assert.Equal("ex/r", repo)

	_, err = repoPath("https://gitlab.com/ex/r")
	assert.Error(err)
	_, err = repoPath("https://github.com/ex/r/tree/main")
	assert.Error(err)
}
