package httpcrawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestion-agent/internal/config"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

func newTestSource(cfg models.JSON) *Source {
	limiter := ratelimit.NewMultiLimiter()
	limiter.AddLimiter(ratelimit.LimiterHTTP, 1000, 1000)
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	return New(cfg, config.HTTPSourceConfig{UserAgent: "test-agent", TimeoutSeconds: 5}, limiter, log)
}

func records(t *testing.T, data interface{}) []interface{} {
	t.Helper()
	m, ok := data.(map[string]interface{})
	require.True(t, ok)
	list, ok := m["data"].([]interface{})
	require.True(t, ok)
	return list
}

func TestExecuteMissingURL(t *testing.T) {
	src := newTestSource(models.JSON{})
	result, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 400, result.Code)
}

func TestExecutePageMode(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>hello</html>"))
	}))
	defer server.Close()

	src := newTestSource(models.JSON{"url": server.URL})
	result, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(result.Success)

	list := records(t, result.Data)
	require.Len(t, list, 1)
	record := list[0].(map[string]interface{})
	assert.Equal("<html>hello</html>", record["content"])
	assert.Equal(200, record["statusCode"])
	assert.Equal(server.URL, record["id"])
}

func TestExecuteFetchErrorBecomesErrorRecord(t *testing.T) {
	src := newTestSource(models.JSON{"url": "http://127.0.0.1:1/unreachable"})
	result, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	list := records(t, result.Data)
	require.Len(t, list, 1)
	record := list[0].(map[string]interface{})
	assert.Equal(t, 500, record["statusCode"])
}

func TestExecuteFeedMode(t *testing.T) {
	assert := assert.New(t)
	feedXML := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <item><guid>i1</guid><title>First</title><link>https://ex.com/1</link><description>one</description></item>
    <item><guid>i2</guid><title>Second</title><link>https://ex.com/2</link><description>two</description></item>
  </channel>
</rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedXML))
	}))
	defer server.Close()

	src := newTestSource(models.JSON{"url": server.URL, "mode": "feed"})
	result, err := src.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(result.Success)

	list := records(t, result.Data)
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.Equal("i1", first["id"])
	assert.Equal("one", first["content"])
	assert.Equal("Example Feed", first["feedTitle"])
}

func TestExecuteDeltaSyncDelete(t *testing.T) {
	assert := assert.New(t)
	src := newTestSource(models.JSON{"url": "https://ex.com"})

	payload := models.JSON{
		models.PayloadKeyWebhookPayload:     models.JSON{"some": "event"},
		models.PayloadKeyExternalResourceID: "https://ex.com/gone",
		models.PayloadKeyChangeType:         string(models.ChangeDelete),
	}
	result, err := src.Execute(context.Background(), payload)
	require.NoError(t, err)
	assert.True(result.Success)

	list := records(t, result.Data)
	require.Len(t, list, 1)
	record := list[0].(map[string]interface{})
	assert.Equal("https://ex.com/gone", record["id"])
	assert.Equal(string(models.ChangeDelete), record["changeType"])
}

func TestExecuteDeltaSyncFetchesResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	src := newTestSource(models.JSON{"url": server.URL})
	payload := models.JSON{
		models.PayloadKeyWebhookPayload: models.JSON{"some": "event"},
		models.PayloadKeyChangeType:     string(models.ChangeUpsert),
	}
	result, err := src.Execute(context.Background(), payload)
	require.NoError(t, err)

	list := records(t, result.Data)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].(map[string]interface{})["content"])
}
