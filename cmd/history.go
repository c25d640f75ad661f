package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"s3uploadservice/internal/config"
	"s3uploadservice/internal/history"
	"s3uploadservice/internal/progress"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded upload outcomes",
	Long: `List the last outcome recorded for each file, newest first.

The database is taken from --history or, when omitted, from the history
setting of the config file.`,
	Example: `  s3uploadservice history --history ./uploads.db
  s3uploadservice history --status failed --limit 20`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("history", "", "Upload history database file")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only list records with this status (uploaded/failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of records (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	dbPath, err := cmd.Flags().GetString("history")
	if err != nil {
		return err
	}
	if dbPath == "" {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dbPath = cfg.History
	}
	if dbPath == "" {
		return fmt.Errorf("no history database configured, use --history")
	}

	status := history.Status(historyStatus)
	switch status {
	case "", history.StatusUploaded, history.StatusFailed:
	default:
		return fmt.Errorf("invalid status %q (valid: uploaded, failed)", historyStatus)
	}

	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("history database not found: %w", err)
	}

	store, err := history.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	records, err := store.List(status, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No uploads recorded.")
		return nil
	}
	printRecords(cmd.OutOrStdout(), records)
	return nil
}

func printRecords(w io.Writer, records []*history.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Path", "Bucket", "Key", "Status", "Size", "Attempts", "Updated", "Error"})

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, r := range records {
		table.Append([]string{
			r.Path,
			r.Bucket,
			r.Key,
			string(r.Status),
			progress.FormatBytes(r.Bytes),
			strconv.Itoa(r.Attempts),
			r.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			r.LastError,
		})
	}

	table.Render()
}
