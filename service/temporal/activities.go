package temporal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/metrics"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Marketplace is the part of the orchestrator the activities drive.
// *market.Orchestrator implements it.
type Marketplace interface {
	PublishMetadata(ctx context.Context, in market.CreateInput) (string, error)
	SubmitListing(ctx context.Context, tokenURI, price string) (*market.CreateResult, error)
}

// CreateListingInput is the workflow input.
type CreateListingInput struct {
	Listing market.CreateInput `json:"listing"`
}

// CreateListingResult is the workflow output.
type CreateListingResult struct {
	TokenURI string               `json:"token_uri"`
	Listing  *market.CreateResult `json:"listing,omitempty"`
}

// PublishMetadataResult carries the tokenURI to the listing step.
type PublishMetadataResult struct {
	TokenURI string `json:"token_uri"`
}

// SubmitListingInput contains parameters for the SubmitListing activity.
type SubmitListingInput struct {
	TokenURI string `json:"token_uri"`
	Price    string `json:"price"`
}

// Activities holds the dependencies for the listing activities.
type Activities struct {
	market  Marketplace
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance.
// If metrics is nil, no metrics will be recorded.
func NewActivities(m Marketplace, met *metrics.Metrics, logger *slog.Logger) *Activities {
	return &Activities{
		market:  m,
		metrics: met,
		logger:  logger,
	}
}

// PublishMetadata uploads the metadata document. Retrying is safe because
// the store is content-addressed: the same input yields the same tokenURI.
func (a *Activities) PublishMetadata(ctx context.Context, input CreateListingInput) (*PublishMetadataResult, error) {
	start := time.Now()
	a.logger.InfoContext(ctx, "publishing listing metadata", "name", input.Listing.Name)

	uri, err := a.market.PublishMetadata(ctx, input.Listing)
	a.metrics.RecordActivity("PublishMetadata", time.Since(start).Seconds(), err)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish metadata", "error", err)
		return nil, classify(err)
	}

	return &PublishMetadataResult{TokenURI: uri}, nil
}

// SubmitListing sends the listing transaction and waits for confirmation.
func (a *Activities) SubmitListing(ctx context.Context, input SubmitListingInput) (*market.CreateResult, error) {
	start := time.Now()
	a.logger.InfoContext(ctx, "submitting listing", "token_uri", input.TokenURI, "price", input.Price)

	result, err := a.market.SubmitListing(ctx, input.TokenURI, input.Price)
	a.metrics.RecordActivity("SubmitListing", time.Since(start).Seconds(), err)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to submit listing", "token_uri", input.TokenURI, "error", err)
		return nil, classify(err)
	}

	return result, nil
}

// classify marks errors that cannot succeed on retry as non-retryable.
func classify(err error) error {
	var vErr *market.ValidationError
	switch {
	case errors.As(err, &vErr):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), "ValidationError", err)
	case errors.Is(err, market.ErrNotConnected):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), "NotConnected", err)
	default:
		return err
	}
}
