package drive

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

// Provider subscribes to Google Drive change notifications. Drive pushes are
// folder-agnostic: the channel watches the whole changes feed and the
// start-page token anchors incremental listing.
type Provider struct {
	defaultToken string
	rateLimiter  *ratelimit.MultiLimiter
	log          *logger.Logger

	// newService is swappable in tests
	newService func(ctx context.Context, credentials models.JSON) (*drive.Service, error)
}

// New creates a Drive webhook provider. defaultToken is used when a task's
// trigger credentials carry no access token of their own.
func New(defaultToken string, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Provider {
	p := &Provider{
		defaultToken: defaultToken,
		rateLimiter:  limiter,
		log:          log.WithComponent("drive-provider"),
	}
	p.newService = p.buildService
	return p
}

func (p *Provider) buildService(ctx context.Context, credentials models.JSON) (*drive.Service, error) {
	token := credentials.GetString("accessToken")
	if token == "" {
		token = credentials.GetString("access_token")
	}
	if token == "" {
		token = p.defaultToken
	}
	if token == "" {
		return nil, provider.ErrUnauthorized
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to build drive service: %w", err)
	}
	return svc, nil
}

// Register opens a changes.watch channel with the shared secret as channel
// token and returns the channel id plus the start page token
func (p *Provider) Register(ctx context.Context, sourceIdentifier, callbackURL, secret string, credentials models.JSON) (*provider.Registration, error) {
	if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterGoogleDrive); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	svc, err := p.newService(ctx, credentials)
	if err != nil {
		return nil, err
	}

	start, err := svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get start page token: %w", err)
	}

	// The channel id doubles as the shared secret: Drive echoes it back in
	// X-Goog-Channel-Id, which is what callback verification checks
	channel := &drive.Channel{
		Id:      secret,
		Type:    "web_hook",
		Address: callbackURL,
		Token:   secret,
	}

	created, err := svc.Changes.Watch(start.StartPageToken, channel).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to watch changes: %w", err)
	}

	p.log.Info().
		Str("folder_id", sourceIdentifier).
		Str("channel_id", created.Id).
		Str("start_page_token", start.StartPageToken).
		Msg("Registered drive change channel")

	return &provider.Registration{
		ExternalID:     created.Id,
		StartPageToken: start.StartPageToken,
		Extra:          models.JSON{"resourceId": created.ResourceId},
	}, nil
}

// Deregister stops the notification channel
func (p *Provider) Deregister(ctx context.Context, externalID, resourceID string, credentials models.JSON) error {
	if err := p.rateLimiter.Wait(ctx, ratelimit.LimiterGoogleDrive); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	svc, err := p.newService(ctx, credentials)
	if err != nil {
		return err
	}

	err = svc.Channels.Stop(&drive.Channel{Id: externalID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to stop channel %s: %w", externalID, err)
	}

	p.log.Info().Str("channel_id", externalID).Msg("Stopped drive change channel")
	return nil
}

// VerifyCredentials checks that the token can read Drive metadata
func (p *Provider) VerifyCredentials(ctx context.Context, credentials models.JSON) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	svc, err := p.newService(ctx, credentials)
	if err != nil {
		return false, err
	}
	if _, err := svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return false, nil
	}
	return true, nil
}

var _ provider.Provider = (*Provider)(nil)
