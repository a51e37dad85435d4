package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewMultiLimiter()
	limiter.AddLimiter(ratelimit.LimiterGoogleDrive, 1000, 1000)
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	p := New("", limiter, log)
	p.newService = func(ctx context.Context, credentials models.JSON) (*drive.Service, error) {
		if credentials.GetString("accessToken") == "" {
			return nil, provider.ErrUnauthorized
		}
		return drive.NewService(ctx,
			option.WithEndpoint(server.URL),
			option.WithHTTPClient(server.Client()),
		)
	}
	return p
}

func TestRegisterWatchesChanges(t *testing.T) {
	assert := assert.New(t)

	var watched drive.Channel
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/changes/startPageToken":
			json.NewEncoder(w).Encode(drive.StartPageToken{StartPageToken: "314"})
		case r.URL.Path == "/changes/watch":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&watched))
			watched.ResourceId = "res-9"
			json.NewEncoder(w).Encode(watched)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	reg, err := p.Register(context.Background(),
		"f1", "https://agent.example.com/webhooks/drive", "s3cret",
		models.JSON{"accessToken": "tok"})
	require.NoError(t, err)

	// The channel id carries the shared secret so callbacks can authenticate
	assert.Equal("s3cret", reg.ExternalID)
	assert.Equal("314", reg.StartPageToken)
	assert.Equal("res-9", reg.Extra.GetString("resourceId"))
	assert.Equal("web_hook", watched.Type)
	assert.Equal("https://agent.example.com/webhooks/drive", watched.Address)
	assert.Equal("s3cret", watched.Token)
}

func TestRegisterWithoutCredentials(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := p.Register(context.Background(), "f1", "https://cb", "s", nil)
	assert.ErrorIs(t, err, provider.ErrUnauthorized)
}

func TestDeregisterStopsChannel(t *testing.T) {
	assert := assert.New(t)

	var stopped drive.Channel
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/channels/stop" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stopped))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	err := p.Deregister(context.Background(), "ch-1", "f1", models.JSON{"accessToken": "tok"})
	require.NoError(t, err)
	assert.Equal("ch-1", stopped.Id)
	assert.Equal("f1", stopped.ResourceId)
}
