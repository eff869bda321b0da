package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin access in the local store",
}

var adminAllowlistCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Manage the admin allowlist",
}

var adminAllowlistAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Grant admin access through the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		note, _ := cmd.Flags().GetString("note")

		st, err := openStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AddToAllowlist(ctx, args[0], note); err != nil {
			return eris.Wrap(err, "admin allowlist add")
		}
		fmt.Fprintf(os.Stdout, "Allowlisted %s\n", args[0])
		return nil
	},
}

var adminProfileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Create or update a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProfile(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "admin profile")
		}
		if p == nil {
			p = &model.Profile{UserID: args[0]}
		}

		if cmd.Flags().Changed("name") {
			p.DisplayName, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("email") {
			p.Email, _ = cmd.Flags().GetString("email")
		}
		if cmd.Flags().Changed("admin") {
			p.IsAdmin, _ = cmd.Flags().GetBool("admin")
		}
		if cmd.Flags().Changed("specialty") {
			p.Specialties, _ = cmd.Flags().GetStringSlice("specialty")
		}

		if err := st.UpsertProfile(ctx, *p); err != nil {
			return eris.Wrap(err, "admin profile")
		}
		fmt.Fprintf(os.Stdout, "Saved profile %s (admin=%t)\n", p.UserID, p.IsAdmin)
		return nil
	},
}

var adminCheckCmd = &cobra.Command{
	Use:   "check <user-id>",
	Short: "Run the admin verification chain for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "admin")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ok, diag := adminauth.NewVerifier(store.NewAdminSource(st)).Verify(ctx, args[0])
		if !ok {
			printDiagnostic(os.Stdout, diag)
			return eris.Errorf("admin check: user %q is not an admin", args[0])
		}
		fmt.Fprintf(os.Stdout, "%s is an admin (via %s)\n", args[0], diag.Method)
		return nil
	},
}

func init() {
	adminAllowlistAddCmd.Flags().String("note", "", "why the user was allowlisted")
	adminProfileCmd.Flags().String("name", "", "display name")
	adminProfileCmd.Flags().String("email", "", "email address")
	adminProfileCmd.Flags().Bool("admin", false, "profile admin flag")
	adminProfileCmd.Flags().StringSlice("specialty", nil, "profile specialties (repeatable)")

	adminAllowlistCmd.AddCommand(adminAllowlistAddCmd)
	adminCmd.AddCommand(adminAllowlistCmd, adminProfileCmd, adminCheckCmd)
	rootCmd.AddCommand(adminCmd)
}
