package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/catalogfile"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local service catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import vendors and services from a CSV, XLSX, JSON or YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return eris.New("catalog import: --file is required")
		}

		cat, err := catalogfile.ReadFile(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "catalog")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportCatalog(ctx, cat.Vendors, cat.Items)
		if err != nil {
			return eris.Wrap(err, "catalog import")
		}

		zap.L().Info("catalog import complete",
			zap.String("file", path),
			zap.Int("vendors", len(cat.Vendors)),
			zap.Int64("rows", n),
		)
		fmt.Fprintf(os.Stdout, "Imported %d vendors and %d services from %s\n", len(cat.Vendors), len(cat.Items), path)
		return nil
	},
}

var catalogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a single service",
	RunE:  runCatalogAdd,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one service with its vendor and research",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogShow,
}

var catalogVendorCmd = &cobra.Command{
	Use:   "vendor ID",
	Short: "Create or update a vendor, including its verified flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogVendor,
}

func runCatalogAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	item, err := catalogItemFromFlags(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, "catalog")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.UpsertCatalogItem(ctx, item); err != nil {
		return eris.Wrap(err, "catalog add")
	}

	zap.L().Info("catalog item saved", zap.String("id", item.ID), zap.String("vendor_id", item.VendorID))
	fmt.Fprintf(cmd.OutOrStdout(), "Saved service %s\n", item.ID)
	return nil
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx, "catalog")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	item, err := st.GetCatalogItem(ctx, args[0])
	if err != nil {
		return eris.Wrap(err, "catalog show")
	}
	if item == nil {
		return eris.Errorf("catalog show: no service with id %q", args[0])
	}

	formatCatalogItem(cmd.OutOrStdout(), *item)
	return nil
}

func runCatalogVendor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	display, _ := cmd.Flags().GetString("display-name")
	verified, _ := cmd.Flags().GetBool("verified")
	v := model.Vendor{ID: args[0], Name: name, DisplayName: display, Verified: verified}

	st, err := openStore(ctx, "catalog")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.UpsertVendor(ctx, v); err != nil {
		return eris.Wrap(err, "catalog vendor")
	}

	zap.L().Info("vendor saved", zap.String("id", v.ID), zap.Bool("verified", v.Verified))
	fmt.Fprintf(cmd.OutOrStdout(), "Saved vendor %s\n", v.ID)
	return nil
}

func addCatalogItemFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("id", "", "service id")
	f.String("title", "", "service title")
	f.String("category", "", "service category")
	f.String("vendor-id", "", "vendor id; a missing vendor is created, an existing one is left as is")
	f.String("vendor-name", "", "vendor name used when the vendor is created")
	f.String("vendor-display-name", "", "vendor display name used when the vendor is created")
	f.String("retail-price", "", "retail price")
	f.String("discounted-price", "", "discounted price")
	f.String("co-pay-price", "", "co-pay price")
	f.Bool("featured", false, "mark as featured")
	f.Bool("co-pay", false, "allow co-pay")
	f.Bool("sponsored", false, "mark as sponsored")
	f.Float64("rating", 0, "average rating")
}

// catalogItemFromFlags builds the item described by the add flags. Rating
// stays unset unless --rating was given.
func catalogItemFromFlags(cmd *cobra.Command) (model.CatalogItem, error) {
	f := cmd.Flags()
	str := func(name string) string {
		v, _ := f.GetString(name)
		return v
	}
	flag := func(name string) bool {
		v, _ := f.GetBool(name)
		return v
	}

	item := model.CatalogItem{
		ID:                str("id"),
		Title:             str("title"),
		Category:          str("category"),
		VendorID:          str("vendor-id"),
		VendorName:        str("vendor-name"),
		VendorDisplayName: str("vendor-display-name"),
		RetailPrice:       str("retail-price"),
		DiscountedPrice:   str("discounted-price"),
		CoPayPrice:        str("co-pay-price"),
		IsFeatured:        flag("featured"),
		AllowsCoPay:       flag("co-pay"),
		IsSponsored:       flag("sponsored"),
	}
	if item.ID == "" || item.Title == "" {
		return item, eris.New("catalog add: --id and --title are required")
	}
	if f.Changed("rating") {
		r, err := f.GetFloat64("rating")
		if err != nil {
			return item, eris.Wrap(err, "flag --rating")
		}
		item.Rating = &r
	}
	return item, nil
}

func formatCatalogItem(w io.Writer, it model.CatalogItem) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", it.ID)
	fmt.Fprintf(tw, "title:\t%s\n", it.Title)
	fmt.Fprintf(tw, "category:\t%s\n", it.Category)
	vendor := it.VendorDisplayName
	if vendor == "" {
		vendor = it.VendorName
	}
	fmt.Fprintf(tw, "vendor:\t%s (verified: %t)\n", vendor, it.VendorVerified)
	fmt.Fprintf(tw, "prices:\tretail %s, discounted %s, co-pay %s\n", it.RetailPrice, it.DiscountedPrice, it.CoPayPrice)
	fmt.Fprintf(tw, "flags:\tfeatured %t, co-pay %t, sponsored %t\n", it.IsFeatured, it.AllowsCoPay, it.IsSponsored)
	rating := "-"
	if it.Rating != nil {
		rating = strconv.FormatFloat(*it.Rating, 'f', -1, 64)
	}
	fmt.Fprintf(tw, "rating:\t%s\n", rating)
	research := it.Research
	if research == "" {
		research = "(none)"
	}
	fmt.Fprintf(tw, "research:\t%s\n", research)
	tw.Flush() //nolint:errcheck
}

func init() {
	catalogImportCmd.Flags().String("file", "", "catalog file to import")
	addCatalogItemFlags(catalogAddCmd)
	catalogVendorCmd.Flags().String("name", "", "vendor name")
	catalogVendorCmd.Flags().String("display-name", "", "vendor display name")
	catalogVendorCmd.Flags().Bool("verified", false, "mark the vendor as verified")
	catalogCmd.AddCommand(catalogImportCmd, catalogAddCmd, catalogShowCmd, catalogVendorCmd)
	rootCmd.AddCommand(catalogCmd)
}
