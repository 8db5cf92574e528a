package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/nftmarket/service/market"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// CreateListingStatus is a snapshot of a durable create-and-list run.
type CreateListingStatus struct {
	WorkflowID string               `json:"workflow_id"`
	Status     string               `json:"status"` // running, completed, failed, ...
	TokenURI   string               `json:"token_uri,omitempty"`
	Listing    *market.CreateResult `json:"listing,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Client starts and inspects listing workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")
	return &Client{client: c, taskQueue: taskQueue, logger: logger}, nil
}

// StartCreateListing starts CreateListingWorkflow and returns its workflow id.
func (c *Client) StartCreateListing(ctx context.Context, in market.CreateInput) (string, error) {
	id := "create-listing-" + uuid.NewString()

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"name":       in.Name,
			"price":      in.Price,
			"created_by": "nftmarket",
		},
	}, CreateListingWorkflow, CreateListingInput{Listing: in})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start create listing workflow", "workflow_id", id, "error", err)
		return "", fmt.Errorf("failed to start workflow: %w", err)
	}

	c.logger.InfoContext(ctx, "create listing workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// GetCreateListingStatus reports the state of a workflow and, once closed,
// its result or failure.
func (c *Client) GetCreateListingStatus(ctx context.Context, workflowID string) (*CreateListingStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	status := &CreateListingStatus{
		WorkflowID: workflowID,
		Status:     strings.ToLower(desc.GetWorkflowExecutionInfo().GetStatus().String()),
	}
	if status.Status == "running" {
		return status, nil
	}

	var result CreateListingResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		status.Error = rootCause(err).Error()
		return status, nil
	}
	status.TokenURI = result.TokenURI
	status.Listing = result.Listing
	return status, nil
}

// rootCause unwraps workflow and activity wrappers down to the original message.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}
