package main

import (
	"fmt"
	"os"
	"presence-lab/internal"
	"presence-lab/repositories"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	var (
		path   string
		cursor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the join/leave history newest first",
		Long: `Print one page of the presence journal.
Badger locks its directory: while the server runs, read GET /journal instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := internal.Load()
			if err != nil {
				return configError{err}
			}
			if path == "" {
				path = config.JournalFilepath
			}
			if path == "" {
				return configError{fmt.Errorf("no journal: set JOURNAL_FILEPATH or --path")}
			}
			if limit <= 0 {
				limit = config.JournalLimit
			}
			return printJournal(path, cursor, limit, config.LogLevel)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Journal directory (default JOURNAL_FILEPATH)")
	cmd.Flags().StringVarP(&cursor, "cursor", "c", "", "Resume after this cursor")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Rows per page (default JOURNAL_LIMIT)")

	return cmd
}

func printJournal(path, cursor string, limit int, logLevel string) error {
	db, err := repositories.OpenBadger(path)
	if err != nil {
		return fmt.Errorf("journal opening failed: %w", err)
	}
	defer db.Close()

	var from *string
	if cursor != "" {
		from = &cursor
	}
	entries, next, err := repositories.NewJournalRepository(db, logs.GetLoggerFromString(logLevel), &limit).List(from)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Kind", "Player", "Reason"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, entry := range entries {
		table.Append([]string{
			entry.At.Local().Format(time.DateTime),
			string(entry.Kind),
			entry.PlayerID,
			string(entry.Reason),
		})
	}
	table.Render()

	if next != nil {
		fmt.Printf("\nnext page: presence journal --cursor %s\n", *next)
	}
	return nil
}
