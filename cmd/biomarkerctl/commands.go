package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/biomarker-normalizer/internal/app"
	"github.com/biomarker-normalizer/internal/config"
	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/internal/service"
	"github.com/biomarker-normalizer/internal/setup"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "biomarkerctl",
		Short:        "Operate the biomarker normalizer",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(normalizeCmd(opts))
	rootCmd.AddCommand(matchCmd(opts))
	rootCmd.AddCommand(taxonomyCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(correctionsCmd(opts))
	rootCmd.AddCommand(mcpCmd())

	return rootCmd
}

// load reads configuration and builds a stderr logger at the CLI log level
func (o *rootOptions) load() (*domain.Config, *logrus.Logger, error) {
	manager, err := config.NewManager(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := manager.GetConfig()

	logCfg := cfg.Logging
	logCfg.Level = o.logLevel
	logCfg.Format = "text"
	logCfg.Output = "stderr"
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func normalizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file>",
		Short: "Normalize a saved extraction answer without storing it (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			matcher, err := app.NewMatcher(cfg)
			if err != nil {
				return err
			}

			content, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			outcome, err := service.NewNormalizer(matcher, nil).Normalize(string(content))
			if err != nil {
				return fmt.Errorf("normalizing %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), outcome)
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func matchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match <name>...",
		Short: "Show how biomarker names resolve against the taxonomy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			matcher, err := app.NewMatcher(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMATCH\tCANONICAL\tCONFIDENCE\tBODY SYSTEM")
			for _, name := range args {
				match := matcher.FindBestMatch(name)
				entry := biomarker.ValidatedEntry{Name: name, Match: match}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
					name, match.MatchType, match.MatchedName, match.Confidence,
					matcher.Taxonomy().BodySystemFor(entry.CanonicalName()))
			}
			return w.Flush()
		},
	}
}

func taxonomyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect the biomarker taxonomy",
	}

	var system string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List canonical biomarkers by body system",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			matcher, err := app.NewMatcher(cfg)
			if err != nil {
				return err
			}

			if system != "" && !biomarker.BodySystem(system).IsValid() {
				return fmt.Errorf("unknown body system %q", system)
			}

			groups := matcher.Taxonomy().ByBodySystem()
			out := cmd.OutOrStdout()
			for _, s := range biomarker.BodySystems() {
				if system != "" && string(s) != system {
					continue
				}
				names, ok := groups[s]
				if !ok {
					continue
				}
				fmt.Fprintf(out, "%s (%d)\n", s, len(names))
				for _, name := range names {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&system, "system", "", "only this body system")

	cmd.AddCommand(listCmd)
	return cmd
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL schema migrations",
	}

	run := func(down bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := app.Migrate(cmd.Context(), cfg.Database, logger, down); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations complete")
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE:  run(false),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE:  run(true),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			v, err := app.SchemaVersion(cfg.Database, logger)
			if err != nil {
				return err
			}
			if !v.Applied {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %d\nDirty: %t\n", v.Version, v.Dirty)
			return nil
		},
	})
	return cmd
}

func correctionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Export, import and summarize clinician corrections",
	}

	withStore := func(ctx context.Context, fn func(store review.Store) error) error {
		cfg, logger, err := opts.load()
		if err != nil {
			return err
		}
		stores, err := app.OpenStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stores.Close()
		return fn(stores.Corrections)
	}

	var outPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export all corrections as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store review.Store) error {
				if outPath == "" || outPath == "-" {
					return store.ExportJSON(cmd.Context(), cmd.OutOrStdout())
				}
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				if err := store.ExportJSON(cmd.Context(), f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, stdout when empty")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import corrections from a JSON export, skipping existing ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store review.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				imported, skipped, err := store.ImportJSON(cmd.Context(), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d corrections, skipped %d\n", imported, skipped)
				return nil
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how often reviewers agreed with the computed status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store review.Store) error {
				total, err := store.Count(cmd.Context())
				if err != nil {
					return err
				}
				all, err := store.List(cmd.Context(), int(total), 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Corrections: %d\nAgreement: %.1f%%\n", total, review.Agreement(all)*100)
				return nil
			})
		},
	}

	cmd.AddCommand(exportCmd, importCmd, statsCmd)
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Register the MCP server with a desktop MCP client",
	}

	var clientConfig, name string
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "client config file, the desktop client's default when empty")
	cmd.PersistentFlags().StringVar(&name, "name", setup.DefaultServerName, "server name in the client config")

	opts := setup.InstallOptions{}
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Add or update the server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ClientConfigPath = clientConfig
			opts.ServerName = name
			entry, err := setup.Install(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s: %s\n", name, entry.Command)
			return nil
		},
	}
	installCmd.Flags().StringVar(&opts.BinaryPath, "binary", "", "mcp-server executable, searched for when empty")
	installCmd.Flags().StringVar(&opts.ConfigFile, "config-file", "", "config file passed to the server")
	installCmd.Flags().StringVar(&opts.CorrectionsDB, "corrections-db", "", "corrections database passed to the server")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := setup.Uninstall(clientConfig, name)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not registered\n", name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the registration and any problems with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := setup.GetStatus(clientConfig, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client config: %s\n", status.ClientConfigPath)
			fmt.Fprintf(out, "Registered: %t\n", status.Registered)
			if status.Entry != nil {
				fmt.Fprintf(out, "Command: %s\n", status.Entry.Command)
			}
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  ! %s\n", issue)
			}
			return nil
		},
	}

	cmd.AddCommand(installCmd, uninstallCmd, statusCmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
