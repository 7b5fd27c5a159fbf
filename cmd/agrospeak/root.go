package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agrospeak/agrospeak/internal/config"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "agrospeak",
		Short: "AgroSpeak - voice assistant for Zambian farmers",
		Long: `AgroSpeak answers farmers' questions by voice or text in their own language.

Weather, soil, location and profile questions are answered from local data;
everything else goes to a remote language model. Replies are translated to the
session language and spoken.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config file (e.g. configs/agrospeak.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newAskCmd(opts))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// load reads the env file and configuration and sets up logging.
func (o *rootOptions) load() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			slog.Debug("no env file loaded", "path", o.envFile)
		}
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agrospeak %s\n", version)
		},
	}
}
