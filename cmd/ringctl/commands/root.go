package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ringline/pkg/config"
	"ringline/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
	log        *zap.SugaredLogger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ringctl",
		Short:         "Administration tool for the ringline signaling server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			log = logger.New(cfg.Logging.Level, "console").Sugar()
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")

	root.AddCommand(tokenCmd(), seedCmd())
	return root
}
