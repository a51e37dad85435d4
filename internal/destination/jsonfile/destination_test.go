package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(models.JSON{}, testLogger())
	assert.Error(t, err)
}

func TestProcessDataAppendsNDJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "records.ndjson")

	dest, err := New(models.JSON{"path": path}, testLogger())
	require.NoError(t, err)
	require.NoError(t, dest.Init(ctx))

	batch := []models.IngestionRecord{
		{ID: "r1", Content: "one", StatusCode: 200, FetchedAt: time.Now()},
		{ID: "r2", Content: "two", StatusCode: 500, FetchedAt: time.Now()},
	}
	require.NoError(t, dest.ProcessData(ctx, batch))
	require.NoError(t, dest.ProcessData(ctx, batch[:1]))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record models.IngestionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		ids = append(ids, record.ID)
	}
	assert.Equal([]string{"r1", "r2", "r1"}, ids)
}
