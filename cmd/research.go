package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/pkg/backend"
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run bulk AI research over the catalog",
}

var researchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a paginated bulk research run against the backend",
	Long: "Calls the bulk research function one page at a time until the catalog is exhausted " +
		"or a page fails. Requires an admin session token.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("research"); err != nil {
			return err
		}

		job, err := researchJobFromFlags(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		skipPreflight, _ := cmd.Flags().GetBool("skip-preflight")

		client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, cfg.Backend.AccessToken,
			backend.WithTimeout(time.Duration(cfg.Backend.TimeoutSecs)*time.Second),
			backend.WithRateLimit(cfg.Backend.RateLimit),
		)

		if !skipPreflight {
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				userID, err = tokenSubject(cfg.Backend.AccessToken)
				if err != nil {
					return err
				}
			}
			ok, diag := adminauth.NewVerifier(client).Verify(ctx, userID)
			if !ok {
				printDiagnostic(os.Stderr, diag)
				return eris.Errorf("research run: user %q is not an admin", userID)
			}
			zap.L().Info("research run: admin verified",
				zap.String("user_id", userID),
				zap.String("method", diag.Method),
			)
		}

		driver := batch.NewDriver(client,
			batch.WithPageSize(cfg.Batch.PageSize),
			batch.WithPageDelay(time.Duration(cfg.Batch.PageDelayMs)*time.Millisecond),
			batch.WithEstimatedTotal(cfg.Batch.EstimatedTotal),
			batch.WithObserver(logPrinter(os.Stdout)),
		)

		state, runErr := driver.Run(ctx, job, dryRun)
		formatRunSummary(os.Stdout, state)
		if runErr != nil {
			return eris.Wrap(runErr, "research run")
		}
		return nil
	},
}

// researchJobFromFlags builds the job from --prompt/--prompt-file, --mode,
// --market-intel and --sources.
func researchJobFromFlags(cmd *cobra.Command) (batch.JobConfig, error) {
	prompt, _ := cmd.Flags().GetString("prompt")
	promptFile, _ := cmd.Flags().GetString("prompt-file")
	mode, _ := cmd.Flags().GetString("mode")
	marketIntel, _ := cmd.Flags().GetBool("market-intel")
	sources, _ := cmd.Flags().GetString("sources")

	if promptFile != "" {
		if prompt != "" {
			return batch.JobConfig{}, eris.New("research run: use --prompt or --prompt-file, not both")
		}
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return batch.JobConfig{}, eris.Wrapf(err, "research run: read %s", promptFile)
		}
		prompt = strings.TrimSpace(string(data))
	}

	job := batch.JobConfig{
		Prompt:             prompt,
		Mode:               batch.Mode(mode),
		MarketIntelligence: marketIntel,
		Sources:            batch.ParseSources(sources),
	}
	if !job.Mode.Valid() {
		return batch.JobConfig{}, eris.Errorf("research run: unknown mode %q (overwrite|missing-only)", mode)
	}
	return job, nil
}

// tokenSubject reads the user id from the session JWT. The backend
// verifies the signature; the CLI only needs the subject for the preflight.
func tokenSubject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", eris.Wrap(err, "research run: parse access token")
	}
	if claims.Subject == "" {
		return "", eris.New("research run: access token has no subject, pass --user")
	}
	return claims.Subject, nil
}

// logPrinter returns an observer that prints each new run log line once.
func logPrinter(out io.Writer) batch.Observer {
	seen := 0
	return func(s batch.RunState) {
		for _, line := range s.NewLines(seen) {
			fmt.Fprintf(out, "[%3d%%] %s\n", s.Progress, line)
		}
		seen = s.LogLines
	}
}

func formatRunSummary(out io.Writer, s batch.RunState) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run:        %s\n", s.RunID)
	fmt.Fprintf(out, "Status:     %s\n", s.Status)
	if s.DryRun {
		fmt.Fprintln(out, "Dry run:    yes")
	}
	fmt.Fprintf(out, "Pages:      %d\n", s.Pages)
	fmt.Fprintf(out, "Processed:  %d\n", s.Processed)
	fmt.Fprintf(out, "Updated:    %d\n", s.Updated)
	fmt.Fprintf(out, "Skipped:    %d\n", s.Skipped)
	if s.Err != "" {
		fmt.Fprintf(out, "Error:      %s\n", s.Err)
	}
}

func printDiagnostic(out io.Writer, diag adminauth.Diagnostic) {
	data, err := json.MarshalIndent(diag, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(out, "Admin verification failed:\n%s\n", data)
}

func addResearchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("prompt", "", "research instructions (default built-in)")
	f.String("prompt-file", "", "read research instructions from a file")
	f.String("mode", string(batch.ModeOverwrite), "overwrite or missing-only")
	f.Bool("dry-run", false, "generate research without saving it")
	f.Bool("market-intel", false, "ask for a market intelligence section")
	f.String("sources", "", "source URLs to cite, comma or newline separated")
	f.String("user", "", "user id for the admin preflight (default: token subject)")
	f.Bool("skip-preflight", false, "skip the local admin check")
}

func init() {
	addResearchFlags(researchRunCmd)

	researchCmd.AddCommand(researchRunCmd)
	rootCmd.AddCommand(researchCmd)
}
