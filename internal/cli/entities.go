package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pensieved/pensieve/internal/config"
	"github.com/pensieved/pensieve/pkg/entity"
)

var entitiesHops int

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Inspect the entity graph",
	Long:  `Inspect the reconciled entity graph in the local database.`,
	RunE:  runEntities,
}

var entitiesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an entity and its neighborhood",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntitiesShow,
}

func init() {
	entitiesShowCmd.Flags().IntVar(&entitiesHops, "hops", 0, "relationship hops to traverse (default from config)")
	entitiesCmd.AddCommand(entitiesShowCmd)
	rootCmd.AddCommand(entitiesCmd)
}

func openEntities() (*entity.Store, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// No embedder: exact lookup and graph traversal only.
	store, err := entity.NewStore(entity.StoreConfig{
		DBPath: cfg.EntitiesDBPath(),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runEntities(cmd *cobra.Command, args []string) error {
	store, _, err := openEntities()
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count(context.Background())
	if err != nil {
		return fmt.Errorf("failed to count entities: %w", err)
	}

	fmt.Printf("%d entities\n", count)
	return nil
}

func runEntitiesShow(cmd *cobra.Command, args []string) error {
	store, cfg, err := openEntities()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	rec, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch entity: %w", err)
	}

	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("Name:        %s\n", rec.CanonicalName)
	fmt.Printf("Type:        %s\n", rec.Type)
	fmt.Printf("Description: %s\n", rec.Description)
	if len(rec.Aliases) > 0 {
		fmt.Printf("Aliases:     %s\n", strings.Join(rec.Aliases, ", "))
	}

	hops := entitiesHops
	if hops <= 0 {
		hops = cfg.Entities.MaxHops
	}

	neighbors, err := store.Neighborhood(ctx, rec.ID, hops)
	if err != nil {
		return fmt.Errorf("failed to traverse neighborhood: %w", err)
	}

	fmt.Printf("Neighborhood (%d hops):\n", hops)
	for _, n := range neighbors {
		if n.Record.ID == rec.ID {
			continue
		}
		fmt.Printf("  %d  %-20s  %s (%s)\n", n.Hops, n.Record.ID, n.Record.CanonicalName, n.Record.Type)
	}

	return nil
}
