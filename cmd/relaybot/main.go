// Command relaybot runs many anonymous Telegram relay bots in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/m3rciful/relaybot/core/bootstrap"
	"github.com/m3rciful/relaybot/core/buildinfo"
	corecmd "github.com/m3rciful/relaybot/core/cmd"
	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/app"
	"github.com/m3rciful/relaybot/internal/botreg"
)

type flags struct {
	config  string
	envFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Anonymous Telegram relay for many bots",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(f)
		},
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "config file (default $CONFIG_PATH or config.yaml)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start every registered bot",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return runRelay(f) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(f)
				if err != nil {
					return err
				}
				if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
					return err
				}
				defer logger.Shutdown()
				return database.RunMigrations(cfg.Database)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Expire stale challenges and correlation rows once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), f, func(ctx context.Context, a *app.App) error {
					counts, err := a.Sweep(ctx)
					names := make([]string, 0, len(counts))
					for name := range counts {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %d removed\n", name, counts[name])
					}
					return err
				})
			},
		},
		newBotsCmd(f),
	)
	return root
}

func newBotsCmd(f *flags) *cobra.Command {
	bots := &cobra.Command{Use: "bots", Short: "Inspect and manage registered bots"}
	bots.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered bots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), f, func(ctx context.Context, a *app.App) error {
					list, err := a.Bots.List(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "USERNAME\tTOPOLOGY\tOWNER\tGROUP\tUPDATED")
					for _, b := range list {
						group := "-"
						if id := b.GroupID(); id != 0 {
							group = fmt.Sprint(id)
						}
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", b.Username, b.Topology, b.OwnerID, group, b.UpdatedAt.Format("2006-01-02 15:04"))
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "stats <username>",
			Short: "Show stored state counts of a bot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), f, func(ctx context.Context, a *app.App) error {
					if _, err := a.Bots.Get(ctx, args[0]); err != nil {
						return err
					}
					s, err := a.Bots.Stats(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "verified: %d\npending: %d\nblocked: %d\nmappings: %d\n",
						s.Verified, s.Pending, s.Blocked, s.Mappings)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <username>",
			Short: "Remove a bot and every row that belongs to it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), f, func(ctx context.Context, a *app.App) error {
					if err := a.Bots.Delete(ctx, args[0]); err != nil {
						if errors.Is(err, botreg.ErrNotFound) {
							return fmt.Errorf("bot %s is not registered", args[0])
						}
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s; send SIGHUP to a running relay to stop its worker\n", args[0])
					return nil
				})
			},
		},
	)
	return bots
}

func options(f *flags) corecmd.Options {
	return corecmd.Options{
		ConfigPath:        f.config,
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		EnvFiles:          []string{f.envFile},
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return app.LoadConfig(path)
		},
	}
}

func loadConfig(f *flags) (*app.Config, error) {
	cfg, err := corecmd.Load(options(f))
	if err != nil {
		return nil, err
	}
	return cfg.(*app.Config), nil
}

func setup(ctx context.Context, cfg *app.Config, seed bool) (*app.App, *database.Store, error) {
	opts := bootstrap.Options{Config: cfg.CoreConfig(), Database: cfg.Database}
	if seed {
		opts.Modules.Seeders = app.Seeders(cfg)
	}
	res, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, res.Store)
	if err != nil {
		_ = res.Store.Close()
		return nil, nil, err
	}
	return a, res.Store, nil
}

// relay closes the store once the app stops.
type relay struct {
	app   *app.App
	store *database.Store
}

func (r relay) Run(ctx context.Context) error {
	defer r.store.Close()
	return r.app.Run(ctx)
}

func runRelay(f *flags) error {
	opts := options(f)
	opts.Bootstrap = func(ctx context.Context, c corecmd.ConfigCarrier) (corecmd.App, error) {
		a, store, err := setup(ctx, c.(*app.Config), true)
		if err != nil {
			return nil, err
		}
		return relay{app: a, store: store}, nil
	}
	return corecmd.Run(opts)
}

func withApp(ctx context.Context, f *flags, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	a, store, err := setup(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer logger.Shutdown()
	defer store.Close()
	defer a.Shutdown(ctx)
	return fn(ctx, a)
}
