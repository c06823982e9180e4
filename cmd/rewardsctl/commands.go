package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rewards-service/config"
	"rewards-service/internal/app"
	"rewards-service/internal/models"
	"rewards-service/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// MigrateCommand applies the embedded schema to DATABASE_URL
func MigrateCommand() *cobra.Command {
	var dbConnStr string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if dbConnStr != "" {
				cfg.Database.URL = dbConnStr
			}
			if cfg.UseMemory() {
				return errors.New("migrate needs DATABASE_DRIVER=postgres")
			}

			a, err := app.Build(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbConnStr, "db", "", "Database connection string (overrides env var)")
	return cmd
}

// BulkPointsCommand adds a delta to every account of a type
func BulkPointsCommand() *cobra.Command {
	var (
		accountType string
		delta       int64
		password    string
		reason      string
	)

	cmd := &cobra.Command{
		Use:   "bulk-points",
		Short: "Add or subtract points for every account of a type",
		Long: `Start a chunked bulk adjustment and run it to completion.

Examples:
  # Give every customer 100 points
  rewardsctl bulk-points --type customers --delta 100 --password-stdin

If the run is interrupted, continue it with "rewardsctl resume --job <id>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := models.ParseAccountType(accountType)
			if !ok {
				return fmt.Errorf("invalid account type: %s", accountType)
			}
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}

			return withBulk(cmd, func(ctx context.Context, bulk *service.BulkService) (*service.BulkResult, error) {
				return bulk.ApplyBulkDelta(ctx, t, delta, pw, reason, progressPrinter(cmd.OutOrStdout()))
			})
		},
	}

	cmd.Flags().StringVar(&accountType, "type", "", "Account type (customers, distributors, sales-agents)")
	cmd.Flags().Int64Var(&delta, "delta", 0, "Points to add (negative to subtract)")
	cmd.Flags().StringVar(&reason, "reason", "", "Ledger reason")
	addPasswordFlag(cmd, &password)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("delta")
	return cmd
}

// ResetPointsCommand sets every account of a type to zero
func ResetPointsCommand() *cobra.Command {
	var (
		accountType string
		password    string
	)

	cmd := &cobra.Command{
		Use:   "reset-points",
		Short: "Reset every balance of an account type to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := models.ParseAccountType(accountType)
			if !ok {
				return fmt.Errorf("invalid account type: %s", accountType)
			}
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}

			return withBulk(cmd, func(ctx context.Context, bulk *service.BulkService) (*service.BulkResult, error) {
				return bulk.ResetAll(ctx, t, pw, progressPrinter(cmd.OutOrStdout()))
			})
		},
	}

	cmd.Flags().StringVar(&accountType, "type", "", "Account type (customers, distributors, sales-agents)")
	addPasswordFlag(cmd, &password)
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// ResumeCommand continues a job from its high-water mark
func ResumeCommand() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted bulk job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBulk(cmd, func(ctx context.Context, bulk *service.BulkService) (*service.BulkResult, error) {
				return bulk.Resume(ctx, jobID, progressPrinter(cmd.OutOrStdout()))
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Bulk job ID")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

// HashPasswordCommand prints a bcrypt hash for BULK_CONFIRMATION_PASSWORD_HASH
func HashPasswordCommand() *cobra.Command {
	var (
		password string
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for the bulk confirmation password",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	addPasswordFlag(cmd, &password)
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func addPasswordFlag(cmd *cobra.Command, password *string) {
	cmd.Flags().StringVar(password, "password", "", "Confirmation password (prefer --password-stdin)")
	cmd.Flags().Bool("password-stdin", false, "Read the confirmation password from stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	if !fromStdin {
		if flagValue == "" {
			return "", errors.New("a confirmation password is required (--password or --password-stdin)")
		}
		return flagValue, nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

// withBulk wires the app, runs fn until done or interrupted, then prints a summary
func withBulk(cmd *cobra.Command, fn func(context.Context, *service.BulkService) (*service.BulkResult, error)) error {
	a, err := app.Build(config.Load())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := fn(ctx, a.Services.Bulk)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted; run resume to continue from the last committed chunk")
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s finished: %d succeeded, %d failed\n", result.JobID, result.SuccessCount, result.FailedCount)
	for _, r := range result.Results {
		if !r.Success {
			fmt.Fprintf(out, "  account %d: %s %s\n", r.AccountID, r.ErrorKind, r.Message)
		}
	}
	return nil
}

func progressPrinter(w io.Writer) func(service.BulkProgress) {
	return func(p service.BulkProgress) {
		if p.CurrentChunk == 0 {
			fmt.Fprintf(w, "Job %s: %d accounts in %d chunks\n", p.JobID, p.TotalRecords, p.TotalChunks)
			return
		}
		fmt.Fprintf(w, "chunk %d/%d %d/%d\n", p.CurrentChunk, p.TotalChunks, p.SuccessCount, p.FailedCount)
	}
}
