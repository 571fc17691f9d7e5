package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pensieved/pensieve/internal/config"
	"github.com/pensieved/pensieve/pkg/store"
)

var recordsLimit int

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List persisted memory records",
	Long:  `List the most recent memory records from the local database, newest first.`,
	RunE:  runRecords,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single memory record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

func init() {
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 20, "maximum number of records to list")
	recordsCmd.AddCommand(recordsShowCmd)
	rootCmd.AddCommand(recordsCmd)
}

func openRecords() (*store.Records, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return store.NewRecords(store.Config{
		DBPath: cfg.RecordsDBPath(),
		Logger: zerolog.Nop(),
	})
}

func runRecords(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	defer records.Close()

	ctx := context.Background()

	total, err := records.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	list, err := records.List(ctx, recordsLimit)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	fmt.Printf("%d records (%d total)\n", len(list), total)
	for _, rec := range list {
		fmt.Printf("%-36s  %s  x%-3d  %s\n",
			rec.ID,
			rec.CreatedAt.Local().Format(time.DateTime),
			rec.DurationCount,
			rec.Title)
	}

	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	defer records.Close()

	rec, err := records.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch record: %w", err)
	}

	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("Title:       %s\n", rec.Title)
	fmt.Printf("Summary:     %s\n", rec.Summary)
	fmt.Printf("Keywords:    %s\n", strings.Join(rec.Keywords, ", "))
	fmt.Printf("Context:     %s\n", rec.ContextKind)
	fmt.Printf("Importance:  %.2f\n", rec.Importance)
	fmt.Printf("Confidence:  %.2f\n", rec.Confidence)
	fmt.Printf("Created:     %s\n", rec.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Event time:  %s\n", rec.EventTime.Local().Format(time.DateTime))
	fmt.Printf("Merges:      %d (duration %d)\n", rec.MergeCount, rec.DurationCount)
	if len(rec.EntityIDs) > 0 {
		fmt.Printf("Entities:    %s\n", strings.Join(rec.EntityIDs, ", "))
	}
	fmt.Printf("Captures:    %d\n", len(rec.RawCaptures))
	for _, rc := range rec.RawCaptures {
		fmt.Printf("  %s  %s\n", rc.ObjectID, rc.ContentPath)
	}

	return nil
}
