package httpcrawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ingestion-agent/internal/config"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

// Source is the http-crawler reference plugin. In "page" mode it fetches the
// configured URL; in "feed" mode it parses it as RSS/Atom and emits one raw
// record per item. With a webhook payload present it performs a delta sync
// of just the notified resource.
type Source struct {
	config      models.JSON
	userAgent   string
	client      *http.Client
	parser      *gofeed.Parser
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// New creates an http-crawler source bound to one task's source config
func New(cfg models.JSON, httpCfg config.HTTPSourceConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	timeout := time.Duration(httpCfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Source{
		config:      cfg,
		userAgent:   httpCfg.UserAgent,
		client:      &http.Client{Timeout: timeout},
		parser:      gofeed.NewParser(),
		rateLimiter: limiter,
		log:         log.WithComponent("http-crawler"),
	}
}

// Init is a no-op: configuration problems surface at execute time
func (s *Source) Init(ctx context.Context) error {
	return nil
}

// Execute performs the crawl
func (s *Source) Execute(ctx context.Context, payload models.JSON) (*plugin.Result, error) {
	url := s.config.GetString("url")
	if url == "" {
		url = s.config.GetString("startUrl")
	}
	if url == "" {
		return &plugin.Result{
			Success: false,
			Code:    400,
			Message: "missing url (or startUrl) in source config",
		}, nil
	}

	if _, delta := payload[models.PayloadKeyWebhookPayload]; delta {
		return s.deltaSync(ctx, url, payload)
	}
	return s.fullScan(ctx, url)
}

// fullScan crawls the configured resource from scratch
func (s *Source) fullScan(ctx context.Context, url string) (*plugin.Result, error) {
	var records []interface{}
	if s.config.GetString("mode") == "feed" {
		feed, err := s.parseFeed(ctx, url)
		if err != nil {
			// A dead feed is a per-resource fetch error, not a run failure
			records = append(records, errorRecord(url, err))
		} else {
			for _, item := range feed.Items {
				records = append(records, feedRecord(feed, item))
			}
		}
	} else {
		records = append(records, s.fetchPage(ctx, url))
	}

	s.log.Debug().Str("url", url).Int("records", len(records)).Msg("Full scan finished")
	return &plugin.Result{
		Success: true,
		Code:    200,
		Data:    map[string]interface{}{"data": records},
	}, nil
}

// deltaSync fetches only the notified resource. Deletions produce a record
// carrying the change type without fetching.
func (s *Source) deltaSync(ctx context.Context, url string, payload models.JSON) (*plugin.Result, error) {
	target := url
	if resource, ok := payload[models.PayloadKeyExternalResourceID].(string); ok && resource != "" {
		target = resource
	}

	var records []interface{}
	if payload.GetString(models.PayloadKeyChangeType) == string(models.ChangeDelete) {
		records = append(records, map[string]interface{}{
			"id":         target,
			"url":        target,
			"statusCode": 200,
			"changeType": string(models.ChangeDelete),
		})
	} else {
		records = append(records, s.fetchPage(ctx, target))
	}

	s.log.Debug().Str("url", target).Msg("Delta sync finished")
	return &plugin.Result{
		Success: true,
		Code:    200,
		Data:    map[string]interface{}{"data": records},
	}, nil
}

// fetchPage GETs one URL and returns a raw record; fetch failures become
// 500-status records rather than run errors
func (s *Source) fetchPage(ctx context.Context, url string) map[string]interface{} {
	if err := s.rateLimiter.Wait(ctx, ratelimit.LimiterHTTP); err != nil {
		return errorRecord(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errorRecord(url, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errorRecord(url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return errorRecord(url, err)
	}

	return map[string]interface{}{
		"id":          url,
		"url":         url,
		"content":     string(data),
		"statusCode":  resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
	}
}

func (s *Source) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	if err := s.rateLimiter.Wait(ctx, ratelimit.LimiterHTTP); err != nil {
		return nil, err
	}
	feed, err := s.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", url, err)
	}
	return feed, nil
}

func feedRecord(feed *gofeed.Feed, item *gofeed.Item) map[string]interface{} {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	content := item.Content
	if content == "" {
		content = item.Description
	}
	record := map[string]interface{}{
		"id":         id,
		"url":        item.Link,
		"content":    content,
		"statusCode": 200,
		"title":      item.Title,
		"feedTitle":  feed.Title,
	}
	if item.PublishedParsed != nil {
		record["publishedAt"] = item.PublishedParsed.Format(time.RFC3339)
	}
	return record
}

func errorRecord(url string, err error) map[string]interface{} {
	return map[string]interface{}{
		"id":         url,
		"url":        url,
		"content":    fmt.Sprintf("fetch failed: %v", err),
		"statusCode": 500,
	}
}

var _ plugin.Source = (*Source)(nil)
