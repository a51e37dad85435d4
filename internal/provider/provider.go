package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ingestion-agent/internal/models"
)

var (
	ErrUnsupportedSource = errors.New("no webhook provider for source type")
	ErrUnauthorized      = errors.New("provider rejected credentials")
)

// DefaultTimeout bounds every provider call
const DefaultTimeout = 15 * time.Second

// Registration is what a provider returns after subscribing to an external
// resource
type Registration struct {
	ExternalID     string
	StartPageToken string
	NextPageToken  string
	Extra          models.JSON
}

// Provider adapts one external service's subscription API. All operations
// must be idempotent from the manager's view; the manager calls Register
// only when no registry entry exists for the source identifier, so a live
// subscription is never registered twice.
type Provider interface {
	// Register subscribes callbackURL to change notifications for the
	// resource named by sourceIdentifier.
	Register(ctx context.Context, sourceIdentifier, callbackURL, secret string, credentials models.JSON) (*Registration, error)

	// Deregister cancels a subscription. externalID is the provider's
	// webhook identity from Register; resourceID is the source identifier.
	Deregister(ctx context.Context, externalID, resourceID string, credentials models.JSON) error

	// VerifyCredentials checks that the credentials are usable
	VerifyCredentials(ctx context.Context, credentials models.JSON) (bool, error)
}

// Registry maps source plugin types to their webhook providers
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a provider to a source plugin type
func (r *Registry) Register(pluginType string, p Provider) {
	r.providers[pluginType] = p
}

// For returns the provider for a plugin type
func (r *Registry) For(pluginType string) (Provider, error) {
	p, ok := r.providers[pluginType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, pluginType)
	}
	return p, nil
}
