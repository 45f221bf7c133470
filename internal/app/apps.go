package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
)

func (s *runtimeState) newAppsCommand() *cobra.Command {
	root := &cobra.Command{Use: "apps", Short: "Integration descriptor commands"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries := s.catalog.List()
			if s.flags.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(summaries)
			}
			for _, item := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", item.Name, item.Description)
			}
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate <name>",
		Short: "Check one integration's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems := s.catalog.Validate(args[0])
			if len(problems) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], problem)
			}
			return brokererr.New(brokererr.CodeConfig, fmt.Sprintf("%d problem(s) in integration %s", len(problems), args[0]))
		},
	}

	root.AddCommand(list)
	root.AddCommand(validate)
	return root
}
