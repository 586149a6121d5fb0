package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"convoforge/internal/config"
	"convoforge/internal/conversation"
	"convoforge/internal/logging"
	"convoforge/internal/provider"
	providerfactory "convoforge/internal/provider/factory"
	"convoforge/internal/router"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "convoforge",
		Short: "Conversational requirements assistant backed by pluggable LLM providers",
		// main prints the error.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logging.Setup(opts.logLevel)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newProvidersCmd(opts))
	return root
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg          config.Config
	registry     *provider.Registry
	conversation *conversation.Orchestrator
}

func loadApp(opts *rootOptions, mutate func(*config.Config) error) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(&cfg); err != nil {
			return nil, err
		}
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, registry); err != nil {
		return nil, fmt.Errorf("initialize providers: %w", err)
	}

	return &app{
		cfg:          cfg,
		registry:     registry,
		conversation: conversation.New(router.New(registry)),
	}, nil
}
