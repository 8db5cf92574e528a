package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/nftmarket/service/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func testListingInput() CreateListingInput {
	return CreateListingInput{Listing: market.CreateInput{
		Name:        "Art1",
		Description: "desc",
		Price:       "0.025",
		Image:       "L",
	}}
}

func TestCreateListingWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		mockActivities func(publishMock, submitMock *testsuite.MockCallWrapper)
		expectedError  bool
		submitCalls    int
		validateResult func(*testing.T, *CreateListingResult)
	}{
		{
			name: "publishes then lists",
			mockActivities: func(publishMock, submitMock *testsuite.MockCallWrapper) {
				publishMock.Return(&PublishMetadataResult{TokenURI: "ipfs://meta"}, nil)
				submitMock.Return(&market.CreateResult{TokenID: "1", TokenURI: "ipfs://meta", TxHash: "0xabc"}, nil)
			},
			submitCalls: 1,
			validateResult: func(t *testing.T, result *CreateListingResult) {
				assert.Equal(t, "ipfs://meta", result.TokenURI)
				require.NotNil(t, result.Listing)
				assert.Equal(t, "1", result.Listing.TokenID)
			},
		},
		{
			name: "upload failure never lists",
			mockActivities: func(publishMock, submitMock *testsuite.MockCallWrapper) {
				publishMock.Return(nil, errors.New("ipfs unavailable"))
				submitMock.Return(&market.CreateResult{}, nil)
			},
			expectedError: true,
			submitCalls:   0,
		},
		{
			name: "chain failure surfaces",
			mockActivities: func(publishMock, submitMock *testsuite.MockCallWrapper) {
				publishMock.Return(&PublishMetadataResult{TokenURI: "ipfs://meta"}, nil)
				submitMock.Return(nil, errors.New("transaction reverted"))
			},
			expectedError: true,
			submitCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.PublishMetadata)
			env.RegisterActivity(activities.SubmitListing)

			publishMock := env.OnActivity(activities.PublishMetadata, mock.Anything, mock.Anything)
			submits := 0
			submitMock := env.OnActivity(activities.SubmitListing, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				submits++
				input := args.Get(1).(SubmitListingInput)
				assert.Equal(t, "ipfs://meta", input.TokenURI)
				assert.Equal(t, "0.025", input.Price)
			})
			tt.mockActivities(publishMock, submitMock)

			env.ExecuteWorkflow(CreateListingWorkflow, testListingInput())

			require.True(t, env.IsWorkflowCompleted())
			assert.Equal(t, tt.submitCalls, submits)
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result CreateListingResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestCreateListingWorkflow_UploadRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.PublishMetadata)
	env.RegisterActivity(activities.SubmitListing)

	attempts := 0
	env.OnActivity(activities.PublishMetadata, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ CreateListingInput) (*PublishMetadataResult, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("temporary network error")
			}
			return &PublishMetadataResult{TokenURI: "ipfs://meta"}, nil
		})
	env.OnActivity(activities.SubmitListing, mock.Anything, mock.Anything).
		Return(&market.CreateResult{TokenID: "1"}, nil)

	env.ExecuteWorkflow(CreateListingWorkflow, testListingInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, attempts)
}

func TestCreateListingWorkflow_ChainWriteNotRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.PublishMetadata)
	env.RegisterActivity(activities.SubmitListing)

	env.OnActivity(activities.PublishMetadata, mock.Anything, mock.Anything).
		Return(&PublishMetadataResult{TokenURI: "ipfs://meta"}, nil)
	submits := 0
	env.OnActivity(activities.SubmitListing, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ SubmitListingInput) (*market.CreateResult, error) {
			submits++
			return nil, errors.New("timed out waiting for confirmation")
		})

	env.ExecuteWorkflow(CreateListingWorkflow, testListingInput())

	// The failure travels as the workflow error; there is no partial result.
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to submit listing")
	assert.Contains(t, err.Error(), "timed out waiting for confirmation")
	assert.Equal(t, 1, submits)
}
