package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/deals"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

func TestFormatDealsTable(t *testing.T) {
	results := deals.Rank([]model.CatalogItem{
		{ID: "a", Title: "Listing Photos", VendorDisplayName: "SkyShots", IsFeatured: true},
		{ID: "b", Title: "Yard Signs", CoPayPrice: "20"},
	}, deals.DefaultWeights())
	require.Len(t, results, 2)

	var buf bytes.Buffer
	formatDealsTable(&buf, results)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RANK")
	assert.Contains(t, lines[0], "REASONS")
	assert.Contains(t, lines[1], "Listing Photos")
	assert.Contains(t, lines[1], "Featured service")
	assert.True(t, strings.HasPrefix(lines[2], "2"))
	assert.Contains(t, lines[2], "Yard Signs")
}

func TestFormatWeights(t *testing.T) {
	var buf bytes.Buffer
	formatWeights(&buf, deals.DefaultWeights())

	out := buf.String()
	assert.Contains(t, out, "featured_bonus:")
	assert.Contains(t, out, "15\n")
	assert.Contains(t, out, "recognized_brands:")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "enabled:")
}

func TestApplyWeightFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "set"}
	addWeightFlags(cmd)
	require.NoError(t, cmd.Flags().Set("featured-bonus", "22.5"))
	require.NoError(t, cmd.Flags().Set("result-limit", "3"))
	require.NoError(t, cmd.Flags().Set("enabled", "false"))

	w, changed, err := applyWeightFlags(cmd, deals.DefaultWeights())
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.InDelta(t, 22.5, w.FeaturedBonus, 0.0001)
	assert.Equal(t, 3, w.ResultLimit)
	assert.False(t, w.Enabled)
	assert.InDelta(t, 10.0, w.CoPayBonus, 0.0001)
}

func TestApplyWeightFlags_NoneSet(t *testing.T) {
	cmd := &cobra.Command{Use: "set"}
	addWeightFlags(cmd)

	w, changed, err := applyWeightFlags(cmd, deals.DefaultWeights())
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, deals.DefaultWeights(), w)
}

func TestEditBrands(t *testing.T) {
	c := testConfig(t)
	setTestConfig(t, c)

	require.NoError(t, editBrands(func(w config.DealWeights) config.DealWeights {
		return deals.AddBrand(w, "Keller Williams")
	}))
	require.NoError(t, editBrands(func(w config.DealWeights) config.DealWeights {
		return deals.AddBrand(w, "Compass")
	}))
	require.NoError(t, editBrands(func(w config.DealWeights) config.DealWeights {
		return deals.RemoveBrand(w, "compass")
	}))

	w, err := deals.LoadWeights(c.Deals.WeightsFile, deals.DefaultWeights())
	require.NoError(t, err)
	assert.Equal(t, []string{"keller williams"}, w.RecognizedBrands)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
