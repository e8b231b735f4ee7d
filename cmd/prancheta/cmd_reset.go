/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/prancheta/internal/db"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/models"
)

var (
	resetForce  bool
	resetFiscal string
	resetDate   string
)

var resetCmd = &cobra.Command{
	Use:   "reset-confirmations",
	Short: "Mark every confirmed departure of a day as pending again",
	Long: `Reset confirmations for one fiscal's working day.

Confirmed departures anchor the spacing of their line. Resetting them makes
every record of the day pending, so the next recalculation respaces them from
the onboarding lead.

Examples:
  # Interactive reset (will prompt for confirmation)
  prancheta reset-confirmations --fiscal Ana --date 2024-05-02

  # Force reset without confirmation
  prancheta reset-confirmations --fiscal Ana --date 2024-05-02 --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().StringVar(&resetFiscal, "fiscal", "", "Fiscal whose day is reset")
	resetCmd.Flags().StringVar(&resetDate, "date", "", "Work date (YYYY-MM-DD)")
	_ = resetCmd.MarkFlagRequired("fiscal")
	_ = resetCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(resetCmd)
}

func parseScope(fiscal, date string) (models.Scope, error) {
	fiscal = strings.TrimSpace(fiscal)
	if fiscal == "" {
		return models.Scope{}, fmt.Errorf("--fiscal is required")
	}
	if _, err := time.Parse(models.WorkDateLayout, date); err != nil {
		return models.Scope{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return models.Scope{Fiscal: fiscal, WorkDate: date}, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(resetFiscal, resetDate)
	if err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Printf("Reset every confirmation of %s on %s? Type 'yes' to confirm: ", scope.Fiscal, scope.WorkDate)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	n, err := departures.NewGormStore(database).ResetConfirmations(context.Background(), scope)
	if err != nil {
		return fmt.Errorf("reset confirmations: %w", err)
	}

	logger.Info().
		Str("fiscal", scope.Fiscal).
		Str("date", scope.WorkDate).
		Int64("records_reset", n).
		Msg("confirmations reset")
	fmt.Printf("%d departure(s) reset to pending.\n", n)
	return nil
}
