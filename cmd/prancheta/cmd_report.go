/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/prancheta/internal/db"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/models"
)

var (
	reportFiscal string
	reportDate   string
)

var reportCmd = &cobra.Command{
	Use:     "finalize-report",
	Short:   "Print the departures recorded for a fiscal's working day",
	Example: `  prancheta finalize-report --fiscal Ana --date 2024-05-02`,
	RunE:    runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFiscal, "fiscal", "", "Fiscal whose day is printed")
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Work date (YYYY-MM-DD)")
	_ = reportCmd.MarkFlagRequired("fiscal")
	_ = reportCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(reportFiscal, reportDate)
	if err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	store := departures.NewGormStore(database)
	ctx := context.Background()
	rows, err := store.ListScope(ctx, scope)
	if err != nil {
		return fmt.Errorf("list departures: %w", err)
	}
	stats, err := store.Stats(ctx, departures.Filter{Fiscal: scope.Fiscal, WorkDate: scope.WorkDate})
	if err != nil {
		return fmt.Errorf("departure stats: %w", err)
	}

	return writeReport(cmd.OutOrStdout(), scope, rows, stats, cfg.Location)
}

func writeReport(out io.Writer, scope models.Scope, rows []models.Departure, stats departures.Stats, loc *time.Location) error {
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "Fiscal: %s  Date: %s\n\n", scope.Fiscal, scope.WorkDate)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLINE\tVEHICLE\tDRIVER\tTIME\tSTATUS")
	for _, d := range rows {
		status := "pending"
		if d.Confirmed {
			status = "confirmed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Line, d.VehicleID, d.Driver, d.ClockTime(loc), status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\nTotal: %d  Confirmed: %d  Pending: %d\n", stats.Total, stats.Confirmed, stats.Pending)
	return err
}
