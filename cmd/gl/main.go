package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigledger/internal/app"
	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/logging"
	"gigledger/internal/migrate"
	"gigledger/internal/replicator"
	"gigledger/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "gigledger marketplace backend",
	Long: `gigledger runs a freelance marketplace whose profiles, gigs and messages
live on ledger channels and whose payments sit in per-gig escrow contracts.
- Workspace: a directory holding gigledger.yml, an optional .env and the .gigledger database.
- Channels: the profile, gig and message topics; 'gl sync' replays them into the store.
- Escrow: 'gl serve' exposes the prepare/record API that moves gigs through assignment, lock and release.
- Arbiter: 'gl arbiter release|cancel' settles a disputed escrow with the platform key.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		env := viper.GetString("env")
		if env == "" {
			env = cfg.Service.Env
		}
		logging.Setup(cfg.Service.Name, env, logging.Options{
			Level:  viper.GetString("log-level"),
			File:   viper.GetString("log-file"),
			Output: os.Stderr,
		})
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("env", "", "environment name attached to log lines (defaults to service.env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write logs to a rotated file instead of stdout")
	for _, name := range []string{"workspace", "json", "env", "log-level", "log-file"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(gigCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(xpCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(arbiterCmd())
	rootCmd.AddCommand(tokenCmd())
}

func secrets() app.Secrets {
	return app.Secrets{
		JWTSecret:    viper.GetString("jwt_secret"),
		LedgerToken:  viper.GetString("ledger_token"),
		SMTPPassword: viper.GetString("smtp_password"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		Secrets:   secrets(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage gigledger.yml"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default gigledger.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate gigledger.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cfg.AddCommand(initCmd, showCmd, validateCmd)
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace, File: cfg.Store.File, BusyTimeout: cfg.Store.BusyTimeout})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Println("schema version", v)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the replay worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("jwt_secret") == "" {
				return fmt.Errorf("GIGLEDGER_JWT_SECRET is required for arbiter and admin routes")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func syncCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay ledger channels into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					results []replicator.Result
					err     error
				)
				switch channel {
				case "", "all":
					results, err = a.Replicator.SyncAll(ctx)
				case "profiles", "gigs", "messages":
					sync := map[string]func(context.Context) (replicator.Result, error){
						"profiles": a.Replicator.SyncProfiles,
						"gigs":     a.Replicator.SyncGigs,
						"messages": a.Replicator.SyncMessages,
					}[channel]
					var res replicator.Result
					if res, err = sync(ctx); err == nil {
						results = append(results, res)
					}
				default:
					return fmt.Errorf("unknown channel %q", channel)
				}
				if perr := printSyncResults(results); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "replay one channel (profiles, gigs, messages)")

	runs := &cobra.Command{
		Use:   "runs",
		Short: "List recent replay runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListSyncRuns(ctx, 20)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Channel", "Started", "Processed", "Skipped", "Error"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Channel, r.StartedAt, r.Processed, r.Skipped, r.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(runs)
	return cmd
}

func printSyncResults(results []replicator.Result) error {
	if viper.GetBool("json") {
		return printJSON(results)
	}
	tw := newTable(table.Row{"Channel", "Processed", "Skipped"})
	for _, r := range results {
		tw.AppendRow(table.Row{r.Channel, r.Processed, r.Skipped})
	}
	tw.Render()
	return nil
}

func gigCmd() *cobra.Command {
	gig := &cobra.Command{Use: "gig", Short: "Inspect gigs"}

	var status, clientID, freelancerID, cursor string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List gigs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				page, err := a.Engine.ListGigs(ctx, engine.GigQuery{
					Status:       domain.GigStatus(status),
					ClientID:     clientID,
					FreelancerID: freelancerID,
					Limit:        limit,
					Cursor:       cursor,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable(table.Row{"Ref", "Title", "Status", "Escrow", "Contract", "Worker", "Budget"})
				for _, g := range page.Gigs {
					tw.AppendRow(table.Row{g.RefID, g.Title, g.Status, g.EscrowStatus, deref(g.EscrowContractID), deref(g.AssignedFreelancerID), g.Budget.String()})
				}
				tw.Render()
				if page.Next != "" {
					fmt.Println("next cursor:", page.Next)
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().StringVar(&clientID, "client", "", "filter by client account")
	list.Flags().StringVar(&freelancerID, "freelancer", "", "filter by assigned worker")
	list.Flags().IntVar(&limit, "limit", 50, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "continue after a previous page")

	show := &cobra.Command{
		Use:   "show REF",
		Short: "Show one gig",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Engine.GetGig(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	gig.AddCommand(list, show)
	return gig
}

func profileCmd() *cobra.Command {
	profile := &cobra.Command{Use: "profile", Short: "Inspect profiles"}
	profile.AddCommand(&cobra.Command{
		Use:   "show ACCOUNT",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	return profile
}

func xpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "xp ACCOUNT",
		Short: "Show experience points and claimed rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				xp, err := a.Engine.GetXP(ctx, args[0])
				if err != nil {
					return err
				}
				claims, err := a.Engine.ListRewardClaims(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"xp": xp, "claims": claims})
				}
				fmt.Printf("%s: %d XP\n", xp.AccountID, xp.XP)
				claimed := map[string]bool{}
				for _, c := range claims {
					claimed[c.RewardID] = true
				}
				tw := newTable(table.Row{"Reward", "Threshold", "Status"})
				for _, r := range a.Engine.ListRewards() {
					state := "locked"
					switch {
					case claimed[r.ID]:
						state = "claimed"
					case xp.XP >= r.Threshold:
						state = "claimable"
					}
					tw.AppendRow(table.Row{r.ID, r.Threshold, state})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func activityCmd() *cobra.Command {
	activity := &cobra.Command{Use: "activity", Short: "Inspect the activity journal"}
	var n int
	var kind, id string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListActivity(ctx, kind, id, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"At", "Type", "Entity", "Actor"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.TS, it.Type, it.EntityKind + "/" + it.EntityID, it.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	tail.Flags().StringVar(&kind, "kind", "", "entity kind (gig, profile, application, invitation)")
	tail.Flags().StringVar(&id, "id", "", "entity id")
	activity.AddCommand(tail)
	return activity
}

func arbiterCmd() *cobra.Command {
	arbiter := &cobra.Command{Use: "arbiter", Short: "Settle escrows with the platform arbiter key"}
	for _, action := range []string{"release", "cancel"} {
		arbiter.AddCommand(&cobra.Command{
			Use:   action + " CONTRACT",
			Short: map[string]string{"release": "Pay the escrow out to the worker", "cancel": "Refund the escrow to the client"}[action],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					run := a.Escrow.ArbiterRelease
					if action == "cancel" {
						run = a.Escrow.ArbiterCancel
					}
					g, err := run(ctx, args[0], a.Config.Escrow.ArbiterAccountID)
					if err != nil {
						return err
					}
					return printJSON(g)
				})
			},
		})
	}
	return arbiter
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the arbiter and admin routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(viper.GetString("jwt_secret"), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (the arbiter account id for arbiter tokens)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{server.RoleArbiter}, "roles to grant (arbiter, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	return cmd
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
