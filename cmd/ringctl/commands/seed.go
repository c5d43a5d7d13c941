package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ringline/internal/infrastructure/distributed"
	"ringline/internal/infrastructure/repositories"
)

func seedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Validate a contact seed file and load it into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			seed, err := repositories.ParseSeed(data)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d identities OK\n", args[0], len(seed.Identities))
				return nil
			}

			ctx := cmd.Context()
			factory := repositories.NewRepositoryFactory(ctx, cfg, log)
			defer func() { _ = factory.Close() }()
			if !factory.UsingRedis() {
				return fmt.Errorf("redis is not enabled or unreachable; the memory store does not outlive this command")
			}

			// Running servers drop cached display names for reseeded identities.
			bus := distributed.NewEventBus(factory.RedisClient(), "ringctl-"+uuid.NewString(), log)
			dir := distributed.NewNotifyingDirectory(factory.CreateContactDirectory(), bus, nil, log)

			n, err := factory.LoadSeed(ctx, args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d identities\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only validate the file")
	return cmd
}
