package main

import (
	"context"
	"fmt"

	"github.com/cuemby/deployd/pkg/promoter"
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote [ENV_ID]",
	Short: "Run the auto promoter once",
	Long: `Evaluate auto promotion once and write any promotion it decides on.

With an environment id only that environment is evaluated and its result is
printed. Without one, every AUTO promote policy is evaluated as one batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	locker, _, closeLocker, err := newLocker(cfg.Lock)
	if err != nil {
		return fmt.Errorf("failed to create locker: %w", err)
	}
	defer closeLocker()

	p := promoter.NewPromoter(store, locker, cfg.Promoter)
	ctx := context.Background()

	if len(args) == 0 {
		if err := p.ProcessBatch(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Promotion batch complete")
		return nil
	}

	res, err := p.ProcessOnce(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Result: %s\n", res.Code)
	if res.BuildID != "" {
		fmt.Printf("  Build: %s\n", res.BuildID)
	}
	if res.PredDeploy != nil {
		fmt.Printf("  From deploy: %s\n", res.PredDeploy.ID)
	}
	if res.DeployID != "" {
		fmt.Printf("  New deploy: %s\n", res.DeployID)
	}
	return nil
}
