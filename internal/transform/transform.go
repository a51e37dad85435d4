package transform

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ingestion-agent/internal/models"
)

// GenerateRecordID creates a stable ID for a record based on source and URL
func GenerateRecordID(sourceType, url string) string {
	data := fmt.Sprintf("%s:%s", sourceType, url)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:16]) // Use first 16 bytes (32 hex chars)
}

// Default is the reference transformer that source plugins register. It is
// total: non-map raw items become 200-status records holding their printed
// value, and items carrying a non-200 statusCode keep it as error records;
// no item fails the run.
func Default(raw []interface{}, payload models.JSON) []models.IngestionRecord {
	fetchedAt := fetchedAtFrom(payload)
	changeType := payload.GetString(models.PayloadKeyChangeType)

	records := make([]models.IngestionRecord, 0, len(raw))
	for _, item := range raw {
		records = append(records, transformOne(item, fetchedAt, changeType))
	}
	return records
}

func transformOne(item interface{}, fetchedAt time.Time, changeType string) models.IngestionRecord {
	m, ok := item.(map[string]interface{})
	if !ok {
		content := fmt.Sprint(item)
		return models.IngestionRecord{
			ID:         GenerateRecordID("scalar", content),
			Content:    content,
			StatusCode: 200,
			FetchedAt:  fetchedAt,
		}
	}

	record := models.IngestionRecord{
		StatusCode: 200,
		FetchedAt:  fetchedAt,
		Metadata:   models.JSON{},
	}
	for key, value := range m {
		switch key {
		case "id":
			record.ID, _ = value.(string)
		case "url":
			record.URL, _ = value.(string)
		case "content":
			record.Content, _ = value.(string)
		case "statusCode":
			record.StatusCode = asInt(value, 200)
		default:
			record.Metadata[key] = value
		}
	}
	if record.ID == "" {
		record.ID = GenerateRecordID("record", record.URL+record.Content)
	}
	if changeType != "" {
		record.Metadata["changeType"] = changeType
	}
	if record.StatusCode != 200 && record.Content == "" {
		record.Content = fmt.Sprintf("fetch failed with status %d", record.StatusCode)
	}
	return record
}

func fetchedAtFrom(payload models.JSON) time.Time {
	if s := payload.GetString(models.PayloadKeyFetchedAt); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func asInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
