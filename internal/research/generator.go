// Package research generates per-item research text for catalog services.
// It is the server half of a bulk research run: each call handles one page.
package research

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/metrics"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
	"github.com/andrew12-circle/circle-marketplace/internal/resilience"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
	"github.com/andrew12-circle/circle-marketplace/pkg/anthropic"
)

// ErrForbidden is the root of every ForbiddenError.
var ErrForbidden = eris.New("research: admin access required")

// ForbiddenError is returned when the caller failed admin verification.
// Diagnostic holds the full tier trail; callers decide how much to expose.
type ForbiddenError struct {
	Diagnostic adminauth.Diagnostic
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: user %q", ErrForbidden.Error(), e.Diagnostic.UserID)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// Generator processes bulk research pages.
type Generator struct {
	store    store.Store
	ai       anthropic.Client
	verifier *adminauth.Verifier
	cfg      config.ResearchConfig
	retry    resilience.RetryPolicy
	breaker  *resilience.Breaker
}

// NewGenerator creates a Generator. LLM calls are retried on transient
// errors and stop going out once the breaker opens.
func NewGenerator(st store.Store, ai anthropic.Client, verifier *adminauth.Verifier, cfg config.ResearchConfig) *Generator {
	retry := resilience.DefaultRetryPolicy()
	retry.Attempts = max(cfg.RetryAttempts, 0) + 1
	retry.OnRetry = resilience.LogRetry("research: generate")

	return &Generator{
		store:    st,
		ai:       ai,
		verifier: verifier,
		cfg:      cfg,
		retry:    retry,
		breaker:  resilience.NewBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSecs)*time.Second),
	}
}

// ProcessPage verifies userID, then generates research for up to req.Limit
// catalog items starting at req.Offset. Item failures are reported in the
// response and never abort the page.
func (g *Generator) ProcessPage(ctx context.Context, userID string, req batch.PageRequest) (*batch.PageResponse, error) {
	ok, diag := g.verifier.Verify(ctx, userID)
	if !ok {
		return nil, &ForbiddenError{Diagnostic: diag}
	}

	mode := req.Mode
	if mode == "" {
		mode = batch.ModeOverwrite
	}
	if !mode.Valid() {
		return nil, eris.Errorf("research: unknown mode %q", req.Mode)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = batch.DefaultPageSize
	}
	offset := max(req.Offset, 0)

	items, err := g.store.ListCatalogItems(ctx, store.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, eris.Wrap(err, "research: list catalog items")
	}

	log := zap.L().With(
		zap.String("user_id", userID),
		zap.Int("offset", offset),
		zap.Int("limit", limit),
		zap.Bool("dry_run", req.DryRun),
	)

	resp := &batch.PageResponse{Errors: []string{}}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "research: page interrupted")
		}
		resp.Processed++

		if mode == batch.ModeMissingOnly && item.HasResearch() {
			resp.Skipped++
			metrics.BatchItems.WithLabelValues(metrics.ResultSkipped).Inc()
			continue
		}

		if err := g.processItem(ctx, item, req); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", itemLabel(item), err))
			metrics.BatchItems.WithLabelValues(metrics.ResultFailed).Inc()
			log.Warn("research: item failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		resp.Updated++
		metrics.BatchItems.WithLabelValues(metrics.ResultUpdated).Inc()
	}

	next := offset + len(items)
	resp.NextOffset = &next
	resp.HasMore = len(items) == limit

	log.Info("research: page done",
		zap.Int("processed", resp.Processed),
		zap.Int("updated", resp.Updated),
		zap.Int("skipped", resp.Skipped),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

func (g *Generator) processItem(ctx context.Context, item model.CatalogItem, req batch.PageRequest) error {
	text, err := g.generate(ctx, item, req)
	if err != nil {
		return err
	}
	if req.DryRun {
		zap.L().Debug("research: dry run, not saving", zap.String("item_id", item.ID), zap.Int("chars", len(text)))
		return nil
	}
	return g.store.SaveResearch(ctx, item.ID, text)
}

func (g *Generator) generate(ctx context.Context, item model.CatalogItem, req batch.PageRequest) (string, error) {
	msg := anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System:    anthropic.CachedSystem(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: BuildPrompt(req.Prompt, item, req.MarketIntelligence, req.Sources)},
		},
	}
	if g.cfg.Temperature > 0 {
		temp := g.cfg.Temperature
		msg.Temperature = &temp
	}

	resp, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Retry(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return g.ai.CreateMessage(ctx, msg)
		})
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(metrics.OutcomeError).Inc()
		return "", eris.Wrap(err, "research: generate")
	}
	metrics.LLMRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	resp.Usage.LogCost(g.cfg.Model, item.ID)

	text := resp.Text()
	if text == "" {
		return "", eris.New("research: empty response")
	}
	return text, nil
}

func itemLabel(item model.CatalogItem) string {
	if item.Title != "" {
		return item.Title
	}
	return item.ID
}
