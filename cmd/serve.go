package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"convoforge/internal/config"
	"convoforge/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, func(cfg *config.Config) error {
				if overridePort == 0 {
					return nil
				}
				if overridePort < 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
				return nil
			})
			if err != nil {
				return err
			}

			srv, err := server.New(a.cfg, a.registry, a.conversation)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port")
	return cmd
}
