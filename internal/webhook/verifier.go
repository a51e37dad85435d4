package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ingestion-agent/internal/models"
)

var (
	ErrInvalidJSON          = errors.New("invalid JSON payload")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrTokenMismatch        = errors.New("channel token mismatch")
	ErrMissingResource      = errors.New("payload carries no resource identifier")
	ErrUnsupportedService   = errors.New("unsupported webhook service")
)

// VerifiedEvent is the outcome of parsing and authenticating one callback
type VerifiedEvent struct {
	Valid              bool
	Payload            models.JSON
	ExternalResourceID string
	ChangeType         models.ChangeType
}

// Verify parses and authenticates a webhook callback for the given service
// (a source plugin type). Pure function, no I/O. An empty expectedSecret
// skips authentication and only extracts fields, which the dispatch path
// uses for its preliminary parse.
func Verify(service string, headers http.Header, body []byte, expectedSecret string) (*VerifiedEvent, error) {
	switch service {
	case models.PluginGitCrawler:
		return verifyGitHub(headers, body, expectedSecret)
	case models.PluginDriveCrawler:
		return verifyDrive(headers, expectedSecret)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedService, service)
	}
}

// verifyGitHub implements HMAC-SHA256 validation of GitHub-style events
func verifyGitHub(headers http.Header, body []byte, expectedSecret string) (*VerifiedEvent, error) {
	var payload models.JSON
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	valid := true
	if expectedSecret != "" {
		signature := headers.Get("X-Hub-Signature-256")
		if signature == "" {
			signature = headers.Get("X-Hub-Signature")
		}
		switch {
		case signature == "":
			// No signature at all: keep extracting fields, mark unauthenticated
			valid = false
		case !strings.HasPrefix(signature, "sha256="):
			return nil, ErrUnsupportedAlgorithm
		default:
			mac := hmac.New(sha256.New, []byte(expectedSecret))
			mac.Write(body)
			expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
			if !hmac.Equal([]byte(signature), []byte(expected)) {
				return nil, ErrInvalidSignature
			}
		}
	}

	changeType := models.ChangeUnknown
	switch headers.Get("X-GitHub-Event") {
	case "push":
		if deleted, ok := payload["deleted"].(bool); ok && deleted {
			changeType = models.ChangeDelete
		} else {
			changeType = models.ChangeUpsert
		}
	case "pull_request":
		changeType = models.ChangeUpsert
	}

	repo, _ := payload["repository"].(map[string]interface{})
	fullName, _ := repo["full_name"].(string)
	if fullName == "" {
		return nil, fmt.Errorf("%w: repository.full_name missing", ErrMissingResource)
	}

	return &VerifiedEvent{
		Valid:              valid,
		Payload:            payload,
		ExternalResourceID: "https://github.com/" + fullName,
		ChangeType:         changeType,
	}, nil
}

// verifyDrive implements channel-token validation of Drive-style events.
// Drive notification bodies are empty; the payload is synthesized from the
// X-Goog-* headers.
func verifyDrive(headers http.Header, expectedSecret string) (*VerifiedEvent, error) {
	if expectedSecret != "" && headers.Get("X-Goog-Channel-Id") != expectedSecret {
		return nil, ErrTokenMismatch
	}

	resourceURI := headers.Get("X-Goog-Resource-Uri")
	folderID := lastPathSegment(resourceURI)
	if folderID == "" {
		return nil, fmt.Errorf("%w: X-Goog-Resource-Uri has no folder segment", ErrMissingResource)
	}

	var changeType models.ChangeType
	switch headers.Get("X-Goog-Resource-State") {
	case "exists", "add", "update":
		changeType = models.ChangeUpsert
	case "not_exists", "trash":
		changeType = models.ChangeDelete
	default:
		changeType = models.ChangeUnknown
	}

	payload := models.JSON{}
	for name, values := range headers {
		if strings.HasPrefix(name, "X-Goog-") && len(values) > 0 {
			payload[name] = values[0]
		}
	}

	return &VerifiedEvent{
		Valid:              true,
		Payload:            payload,
		ExternalResourceID: folderID,
		ChangeType:         changeType,
	}, nil
}

// lastPathSegment returns the last non-empty path segment of a URI,
// ignoring any query string
func lastPathSegment(uri string) string {
	if uri == "" {
		return ""
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	segments := strings.Split(uri, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}
