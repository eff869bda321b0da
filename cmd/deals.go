package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/andrew12-circle/circle-marketplace/internal/catalogfile"
	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/deals"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Rank top deals and manage deal weights",
}

// -- deals top --

var dealsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank the catalog and print the top deals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		switch format {
		case "table", "csv":
		case "xlsx":
			if output == "" {
				return eris.New("deals top: --output is required for xlsx")
			}
		default:
			return eris.Errorf("deals top: unknown format %q", format)
		}

		w, err := deals.LoadWeights(cfg.Deals.WeightsFile, cfg.Deals.Weights)
		if err != nil {
			return err
		}
		if limit > 0 {
			w.ResultLimit = limit
		}

		st, err := openStore(ctx, "deals")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListCatalogItems(ctx, store.ListOptions{})
		if err != nil {
			return eris.Wrap(err, "deals top")
		}

		results := deals.Rank(items, w)
		if len(results) == 0 && format == "table" {
			fmt.Fprintln(os.Stderr, "No eligible deals.")
			return nil
		}

		if format == "xlsx" {
			if err := catalogfile.WriteDealsXLSX(output, results); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %d deals to %s\n", len(results), output)
			return nil
		}

		out := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "deals top: create %s", output)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if format == "csv" {
			return catalogfile.WriteDealsCSV(out, results)
		}
		formatDealsTable(out, results)
		return nil
	},
}

// -- deals weights --

var dealsWeightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show or edit the deal weights file",
}

var dealsWeightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective deal weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := deals.LoadWeights(cfg.Deals.WeightsFile, cfg.Deals.Weights)
		if err != nil {
			return err
		}
		formatWeights(os.Stdout, w)
		return nil
	},
}

var dealsWeightsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more deal weights",
	Long:  "Sets the given weights and saves the file. Negative values are rejected and leave the file untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := deals.LoadWeights(cfg.Deals.WeightsFile, cfg.Deals.Weights)
		if err != nil {
			return err
		}

		w, changed, err := applyWeightFlags(cmd, w)
		if err != nil {
			return err
		}
		if changed == 0 {
			return eris.New("deals weights set: no weights given")
		}

		if err := deals.SaveWeights(cfg.Deals.WeightsFile, w); err != nil {
			return err
		}
		formatWeights(os.Stdout, w)
		return nil
	},
}

var dealsBrandCmd = &cobra.Command{
	Use:   "brand",
	Short: "Edit the recognized brand list",
}

var dealsBrandAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a recognized brand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBrands(func(w config.DealWeights) config.DealWeights {
			return deals.AddBrand(w, args[0])
		})
	},
}

var dealsBrandRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a recognized brand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBrands(func(w config.DealWeights) config.DealWeights {
			return deals.RemoveBrand(w, args[0])
		})
	},
}

func editBrands(edit func(config.DealWeights) config.DealWeights) error {
	w, err := deals.LoadWeights(cfg.Deals.WeightsFile, cfg.Deals.Weights)
	if err != nil {
		return err
	}
	w = edit(w)
	if err := deals.SaveWeights(cfg.Deals.WeightsFile, w); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Recognized brands: %s\n", brandList(w.RecognizedBrands))
	return nil
}

// weightFlags maps flag names to the weight they set.
var weightFlags = []struct {
	name  string
	usage string
	field func(*config.DealWeights) *float64
}{
	{"discount-multiplier", "points per percent of discount", func(w *config.DealWeights) *float64 { return &w.DiscountMultiplier }},
	{"rating-multiplier", "points per rating star", func(w *config.DealWeights) *float64 { return &w.RatingMultiplier }},
	{"featured-bonus", "flat bonus for featured services", func(w *config.DealWeights) *float64 { return &w.FeaturedBonus }},
	{"co-pay-bonus", "flat bonus when co-pay is allowed", func(w *config.DealWeights) *float64 { return &w.CoPayBonus }},
	{"brand-multiplier", "multiplier for recognized brands", func(w *config.DealWeights) *float64 { return &w.BrandMultiplier }},
	{"sponsored-bonus", "flat bonus for sponsored services", func(w *config.DealWeights) *float64 { return &w.SponsoredBonus }},
}

func addWeightFlags(cmd *cobra.Command) {
	for _, f := range weightFlags {
		cmd.Flags().Float64(f.name, 0, f.usage)
	}
	cmd.Flags().Int("result-limit", 0, "max deals returned")
	cmd.Flags().Bool("enabled", true, "enable the top-deals pass")
}

// applyWeightFlags copies every flag the user set onto w and reports how
// many changed.
func applyWeightFlags(cmd *cobra.Command, w config.DealWeights) (config.DealWeights, int, error) {
	changed := 0
	for _, f := range weightFlags {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		v, err := cmd.Flags().GetFloat64(f.name)
		if err != nil {
			return w, 0, eris.Wrapf(err, "flag --%s", f.name)
		}
		*f.field(&w) = v
		changed++
	}
	if cmd.Flags().Changed("result-limit") {
		v, _ := cmd.Flags().GetInt("result-limit")
		w.ResultLimit = v
		changed++
	}
	if cmd.Flags().Changed("enabled") {
		v, _ := cmd.Flags().GetBool("enabled")
		w.Enabled = v
		changed++
	}
	return w, changed, nil
}

func formatDealsTable(out io.Writer, results []deals.Result) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSERVICE\tVENDOR\tSCORE\tREASONS")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\n",
			i+1,
			truncate(r.Item.Title, 40),
			truncate(r.Item.VendorDisplayName, 30),
			r.Score,
			strings.Join(r.Reasons, ", "),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatWeights(out io.Writer, w config.DealWeights) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "discount_multiplier:\t%s\n", formatNumber(w.DiscountMultiplier))
	fmt.Fprintf(tw, "rating_multiplier:\t%s\n", formatNumber(w.RatingMultiplier))
	fmt.Fprintf(tw, "featured_bonus:\t%s\n", formatNumber(w.FeaturedBonus))
	fmt.Fprintf(tw, "co_pay_bonus:\t%s\n", formatNumber(w.CoPayBonus))
	fmt.Fprintf(tw, "brand_multiplier:\t%s\n", formatNumber(w.BrandMultiplier))
	fmt.Fprintf(tw, "sponsored_bonus:\t%s\n", formatNumber(w.SponsoredBonus))
	fmt.Fprintf(tw, "result_limit:\t%d\n", w.ResultLimit)
	fmt.Fprintf(tw, "enabled:\t%t\n", w.Enabled)
	fmt.Fprintf(tw, "recognized_brands:\t%s\n", brandList(w.RecognizedBrands))
	tw.Flush() //nolint:errcheck
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func brandList(brands []string) string {
	if len(brands) == 0 {
		return "(none)"
	}
	return strings.Join(brands, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	dealsTopCmd.Flags().Int("limit", 0, "max deals to show (default from weights)")
	dealsTopCmd.Flags().String("format", "table", "output format: table, csv or xlsx")
	dealsTopCmd.Flags().String("output", "", "write to this file instead of stdout")

	addWeightFlags(dealsWeightsSetCmd)

	dealsBrandCmd.AddCommand(dealsBrandAddCmd, dealsBrandRemoveCmd)
	dealsWeightsCmd.AddCommand(dealsWeightsShowCmd, dealsWeightsSetCmd, dealsBrandCmd)
	dealsCmd.AddCommand(dealsTopCmd, dealsWeightsCmd)
	rootCmd.AddCommand(dealsCmd)
}
