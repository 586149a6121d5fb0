package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"convoforge/internal/provider"
)

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List initialized providers and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, nil)
			if err != nil {
				return err
			}
			return printProviders(cmd.OutOrStdout(), a.registry)
		},
	}
}

// printProviders marks the active provider and each provider's selected
// model with an asterisk.
func printProviders(w io.Writer, registry *provider.Registry) error {
	adapters := registry.List()
	if len(adapters) == 0 {
		_, err := fmt.Fprintln(w, "no providers initialized")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	active := registry.ActiveID()
	for _, a := range adapters {
		marker := " "
		if a.ID() == active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t\n", marker, a.ID(), a.Name())

		selected, err := registry.SelectedModel(a.ID())
		if err != nil {
			return err
		}
		options, err := registry.ListModels(a.ID())
		if err != nil {
			return err
		}
		for _, m := range options {
			modelMarker := " "
			if m.ID == selected {
				modelMarker = "*"
			}
			fmt.Fprintf(tw, "    %s %s\t%s\t%d\n", modelMarker, m.ID, m.Name, m.ContextLength)
		}
	}
	return tw.Flush()
}
