package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/nftmarket/service/market"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// CreateListingWorkflow uploads listing metadata and then submits the listing.
//
// The listing step only runs with the tokenURI produced by the upload step,
// so a listing never points at metadata that failed to upload. The upload is
// retried; the chain write is attempted once because a retry could list twice.
func CreateListingWorkflow(ctx workflow.Context, input CreateListingInput) (*CreateListingResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("CreateListingWorkflow started", "name", input.Listing.Name)

	uploadCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var published *PublishMetadataResult
	if err := workflow.ExecuteActivity(uploadCtx, a.PublishMetadata, input).Get(ctx, &published); err != nil {
		return nil, fmt.Errorf("failed to publish metadata: %w", err)
	}
	logger.Info("metadata published", "token_uri", published.TokenURI)

	writeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var listing *market.CreateResult
	err := workflow.ExecuteActivity(writeCtx, a.SubmitListing, SubmitListingInput{
		TokenURI: published.TokenURI,
		Price:    input.Listing.Price,
	}).Get(ctx, &listing)
	if err != nil {
		return nil, fmt.Errorf("failed to submit listing: %w", err)
	}
	logger.Info("CreateListingWorkflow completed",
		"token_uri", published.TokenURI,
		"token_id", listing.TokenID,
		"tx", listing.TxHash,
	)
	return &CreateListingResult{TokenURI: published.TokenURI, Listing: listing}, nil
}
