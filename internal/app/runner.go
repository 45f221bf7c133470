// Package app wires the engine's collaborators together behind a cobra
// command surface.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	"github.com/PlasticDigits/tidaldex-broker/internal/config"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
	"github.com/PlasticDigits/tidaldex-broker/internal/route"
	"github.com/PlasticDigits/tidaldex-broker/internal/session"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
	"github.com/PlasticDigits/tidaldex-broker/internal/version"
	"github.com/PlasticDigits/tidaldex-broker/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithStreams(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithStreams(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings

	catalog   *integration.Catalog
	store     *tokens.Store
	directory *tokens.Directory
	executor  *chain.EthExecutor
	wallets   *wallet.FileStore
	registry  *session.Registry
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.shutdown()
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %v\n", err)
	return brokererr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Conversational DEX broker engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return brokererr.Wrap(brokererr.CodeConfig, "load configuration", err)
			}
			s.settings = settings

			catalog, err := integration.Load(settings.AppsDir)
			if err != nil {
				return err
			}
			s.catalog = catalog
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return brokererr.Wrap(brokererr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Chain RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.AppsDir, "apps-dir", "", "Directory of integration descriptors")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per RPC request")
	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON")

	cmd.AddCommand(s.newAppsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newIntentCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// openEngine brings up the full collaborator set for commands that touch the
// chain. Commands that only inspect configuration never call this.
func (s *runtimeState) openEngine(ctx context.Context) error {
	if s.registry != nil {
		return nil
	}
	store, err := tokens.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return brokererr.Wrap(brokererr.CodeInternal, "open token store", err)
	}
	s.store = store

	executor, err := chain.Dial(ctx, s.settings.RPCURL, s.settings.ChainID, chain.DefaultExecutorOptions())
	if err != nil {
		return err
	}
	s.executor = executor

	directory, err := tokens.NewDirectory(store, executor)
	if err != nil {
		return brokererr.Wrap(brokererr.CodeInternal, "build token directory", err)
	}
	s.directory = directory

	s.wallets = wallet.NewFileStore(s.settings.KeystorePath, 0)
	prober := route.NewProber(executor, directory, s.settings.BridgeSymbols, s.settings.WrappedNative)

	s.registry = session.NewRegistry(s.catalog, session.Deps{
		Exec:               executor,
		Gas:                executor,
		Params:             chain.NewProcessor(),
		Wallets:            s.wallets,
		Tokens:             directory,
		Prober:             prober,
		DefaultSlippageBps: s.settings.DefaultSlippage,
	})
	return nil
}

func (s *runtimeState) openStore() error {
	if s.store != nil {
		return nil
	}
	store, err := tokens.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return brokererr.Wrap(brokererr.CodeInternal, "open token store", err)
	}
	s.store = store
	return nil
}

func (s *runtimeState) shutdown() {
	if s.executor != nil {
		s.executor.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print engine version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}
