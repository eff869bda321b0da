package research

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
	"github.com/andrew12-circle/circle-marketplace/internal/resilience"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
	"github.com/andrew12-circle/circle-marketplace/pkg/anthropic"
)

type mockAIClient struct {
	mock.Mock
}

func (m *mockAIClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 400, OutputTokens: 250},
	}
}

// promptMentions matches requests whose user message contains s.
func promptMentions(s string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, s)
	})
}

const adminID = "admin-1"

func testResearchConfig() config.ResearchConfig {
	return config.ResearchConfig{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 800,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "research.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	for _, item := range []model.CatalogItem{
		{ID: "svc-a", Title: "Listing Photos", VendorID: "v1", VendorDisplayName: "SkyShots", VendorVerified: true, RetailPrice: "200"},
		{ID: "svc-b", Title: "Drone Video", VendorID: "v1", VendorDisplayName: "SkyShots", VendorVerified: true, RetailPrice: "500"},
		{ID: "svc-c", Title: "Open House Signs", RetailPrice: "80"},
	} {
		require.NoError(t, st.UpsertCatalogItem(ctx, item))
	}
	require.NoError(t, st.UpsertProfile(ctx, model.Profile{UserID: adminID, IsAdmin: true}))
	require.NoError(t, st.UpsertProfile(ctx, model.Profile{UserID: "agent-1", Specialties: []string{"buyers"}}))
	return st
}

func newTestGenerator(t *testing.T, st store.Store, ai anthropic.Client, cfg config.ResearchConfig) *Generator {
	t.Helper()
	g := NewGenerator(st, ai, adminauth.NewVerifier(store.NewAdminSource(st)), cfg)
	g.retry.Backoff = time.Millisecond
	g.retry.Jitter = 0
	return g
}

func overwritePage(limit, offset int) batch.PageRequest {
	return batch.PageRequest{Prompt: "Summarize the ROI.", Mode: batch.ModeOverwrite, Limit: limit, Offset: offset}
}

func TestProcessPage_Forbidden(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	g := newTestGenerator(t, st, ai, testResearchConfig())

	resp, err := g.ProcessPage(context.Background(), "agent-1", overwritePage(10, 0))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrForbidden)

	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "agent-1", fe.Diagnostic.UserID)
	assert.Len(t, fe.Diagnostic.Tiers, 3)
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestProcessPage_OverwriteSavesResearch(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Worth it for busy agents."), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	resp, err := g.ProcessPage(context.Background(), adminID, overwritePage(10, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 3, resp.Updated)
	assert.Equal(t, 0, resp.Skipped)
	assert.Empty(t, resp.Errors)
	assert.False(t, resp.HasMore)
	require.NotNil(t, resp.NextOffset)
	assert.Equal(t, 3, *resp.NextOffset)

	item, err := st.GetCatalogItem(context.Background(), "svc-b")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "Worth it for busy agents.", item.Research)
	ai.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestProcessPage_RequestShape(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	cfg := testResearchConfig()
	cfg.Temperature = 0.3

	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == cfg.Model &&
			req.MaxTokens == 800 &&
			req.Temperature != nil && *req.Temperature == 0.3 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			strings.Contains(req.Messages[0].Content, "## Sources\n") &&
			strings.Contains(req.Messages[0].Content, "1. https://nar.realtor")
	})).Return(textResponse("ok"), nil)

	g := newTestGenerator(t, st, ai, cfg)
	req := overwritePage(1, 0)
	req.Sources = []string{"https://nar.realtor"}

	resp, err := g.ProcessPage(context.Background(), adminID, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Updated)
	ai.AssertExpectations(t)
}

func TestProcessPage_MissingOnlySkipsResearched(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveResearch(context.Background(), "svc-a", "Existing write-up."))

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Fresh."), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	req := overwritePage(10, 0)
	req.Mode = batch.ModeMissingOnly
	resp, err := g.ProcessPage(context.Background(), adminID, req)
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 2, resp.Updated)
	assert.Equal(t, 1, resp.Skipped)
	ai.AssertNumberOfCalls(t, "CreateMessage", 2)

	item, err := st.GetCatalogItem(context.Background(), "svc-a")
	require.NoError(t, err)
	assert.Equal(t, "Existing write-up.", item.Research)
}

func TestProcessPage_DryRunDoesNotWrite(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Preview."), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	req := overwritePage(10, 0)
	req.DryRun = true
	resp, err := g.ProcessPage(context.Background(), adminID, req)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Updated)

	items, err := st.ListCatalogItems(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	for _, item := range items {
		assert.False(t, item.HasResearch(), item.ID)
	}
}

func TestProcessPage_Paging(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("x"), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	first, err := g.ProcessPage(context.Background(), adminID, overwritePage(2, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	assert.True(t, first.HasMore)
	assert.Equal(t, 2, *first.NextOffset)

	second, err := g.ProcessPage(context.Background(), adminID, overwritePage(2, *first.NextOffset))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.False(t, second.HasMore)
	assert.Equal(t, 3, *second.NextOffset)

	third, err := g.ProcessPage(context.Background(), adminID, overwritePage(2, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, third.Processed)
	assert.False(t, third.HasMore)
}

func TestProcessPage_ItemFailureContinues(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, promptMentions("Drone Video")).Return(nil, errors.New("invalid request"))
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Good."), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	resp, err := g.ProcessPage(context.Background(), adminID, overwritePage(10, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 2, resp.Updated)
	require.Len(t, resp.Errors, 1)
	assert.True(t, strings.HasPrefix(resp.Errors[0], "Drone Video: "), resp.Errors[0])
	assert.Contains(t, resp.Errors[0], "invalid request")
	// Non-transient errors are not retried.
	ai.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestProcessPage_RetriesTransientErrors(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Recovered."), nil)

	cfg := testResearchConfig()
	cfg.RetryAttempts = 2
	g := newTestGenerator(t, st, ai, cfg)

	resp, err := g.ProcessPage(context.Background(), adminID, overwritePage(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Updated)
	assert.Empty(t, resp.Errors)
	ai.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestProcessPage_BreakerStopsCalls(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("upstream down"))

	cfg := testResearchConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldownSecs = 60
	g := newTestGenerator(t, st, ai, cfg)

	resp, err := g.ProcessPage(context.Background(), adminID, overwritePage(10, 0))
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 0, resp.Updated)
	require.Len(t, resp.Errors, 3)
	assert.Contains(t, resp.Errors[2], "circuit open")
	ai.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestProcessPage_EmptyResponseIsItemError(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("   "), nil)
	g := newTestGenerator(t, st, ai, testResearchConfig())

	resp, err := g.ProcessPage(context.Background(), adminID, overwritePage(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Updated)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "empty response")
}

func TestProcessPage_UnknownMode(t *testing.T) {
	st := newTestStore(t)
	g := newTestGenerator(t, st, &mockAIClient{}, testResearchConfig())

	req := overwritePage(10, 0)
	req.Mode = "everything"
	_, err := g.ProcessPage(context.Background(), adminID, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestProcessPage_CancelledContext(t *testing.T) {
	st := newTestStore(t)
	ai := &mockAIClient{}
	g := newTestGenerator(t, st, ai, testResearchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(textResponse("first"), nil)

	_, err := g.ProcessPage(ctx, adminID, overwritePage(10, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	ai.AssertNumberOfCalls(t, "CreateMessage", 1)
}
