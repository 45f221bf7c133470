package app

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
)

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Tracked token commands"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.openStore(); err != nil {
				return err
			}
			tracked, err := s.store.TrackedTokens()
			if err != nil {
				return brokererr.Wrap(brokererr.CodeInternal, "list tracked tokens", err)
			}
			if s.flags.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tracked)
			}
			for _, t := range tracked {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", t.Symbol, t.Address, t.Decimals, t.Name)
			}
			return nil
		},
	}

	track := &cobra.Command{
		Use:   "track <address> <symbol> <decimals> [name]",
		Short: "Add or update a tracked token",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return brokererr.New(brokererr.CodeUsage, "invalid token address "+args[0])
			}
			decimals, err := strconv.Atoi(args[2])
			if err != nil || decimals < 0 || decimals > 36 {
				return brokererr.New(brokererr.CodeUsage, "invalid decimals "+args[2])
			}
			name := args[1]
			if len(args) == 4 {
				name = args[3]
			}
			if err := s.openStore(); err != nil {
				return err
			}
			t := tokens.Token{Address: common.HexToAddress(args[0]).Hex(), Symbol: args[1], Name: name, Decimals: decimals}
			if err := s.store.Track(t); err != nil {
				return brokererr.Wrap(brokererr.CodeInternal, "track token", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s (%s)\n", t.Symbol, t.Address)
			return nil
		},
	}

	untrack := &cobra.Command{
		Use:   "untrack <address>",
		Short: "Remove a tracked token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.openStore(); err != nil {
				return err
			}
			if err := s.store.Untrack(args[0]); err != nil {
				return brokererr.Wrap(brokererr.CodeInternal, "untrack token", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "untracked %s\n", args[0])
			return nil
		},
	}

	history := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show recorded balance snapshots for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.openStore(); err != nil {
				return err
			}
			rows, err := s.store.BalanceHistory(args[0], 50)
			if err != nil {
				return brokererr.Wrap(brokererr.CodeInternal, "read balance history", err)
			}
			if s.flags.JSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rows)
			}
			for _, row := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", row.TakenAt.Format("2006-01-02 15:04:05"), row.Token, row.BalanceRaw)
			}
			return nil
		},
	}

	root.AddCommand(list)
	root.AddCommand(track)
	root.AddCommand(untrack)
	root.AddCommand(history)
	return root
}
