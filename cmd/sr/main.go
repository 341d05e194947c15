package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supplyrouter/internal/app"
	"supplyrouter/internal/config"
	"supplyrouter/internal/db"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/engine"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sr",
	Short: "Supplyrouter CLI",
	Long: `Supplyrouter routes free-text purchase orders to suppliers.
- Suppliers register a contact and keyword filters with priorities.
- A new order goes to the active supplier whose filter matches with the highest priority.
- Suppliers accept, decline, complete or cancel; a declined order is routed again.
- Every change lands in the activity log (sr log tail) and the order thread (sr order thread).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
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
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("SUPPLYROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor-id", 0, "actor recorded in the activity log")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/supplyrouter.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(supplierCmd())
	rootCmd.AddCommand(filterCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig resolves the config file and applies SUPPLYROUTER_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("database-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("redis-address"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Address = v
	}
	if v := viper.GetString("redis-password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := viper.GetString("webhook-url"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := viper.GetString("webhook-secret"); v != "" {
		cfg.Notify.Secret = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			defer log.Sync()
			a, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.Server.JWTSecret == "" && !cfg.Server.AllowLegacyActorHeader {
				log.Warn("no jwt secret configured; only API keys will authenticate", nil)
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Access:   a.Auth,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Server.JWTSecret,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					Log:                    log,
				},
				Log: log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving supplyrouter api", logger.Fields{"addr": addr, "base_path": basePath, "docs": "/docs", "metrics": "/metrics"})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect and create supplyrouter.yml"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default supplyrouter.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func apikeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var forActor int64
	var name string
	var save bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if forActor <= 0 {
				return fmt.Errorf("--for-actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, forActor, name, actorID())
				if err != nil {
					return err
				}
				if save {
					if err := saveEnv("SUPPLYROUTER_API_KEY", plain); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key %s for actor %d:\n%s\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().Int64Var(&forActor, "for-actor", 0, "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label")
	create.Flags().BoolVar(&save, "save", false, "store the key as SUPPLYROUTER_API_KEY in <workspace>/.env")
	keyCmd.AddCommand(create)
	return keyCmd
}

// saveEnv sets key in the workspace .env file, keeping other entries.
func saveEnv(key, value string) error {
	path := filepath.Join(viper.GetString("workspace"), ".env")
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func statsCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Order and supplier counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Stats(ctx, period)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"orders", s.Orders.Total})
				tw.AppendRow(table.Row{"completed", s.Orders.Completed})
				tw.AppendRow(table.Row{"pending", s.Orders.Pending})
				tw.AppendRow(table.Row{"cancelled", s.Orders.Cancelled})
				tw.AppendRow(table.Row{"completion rate", fmt.Sprintf("%.2f%%", s.Orders.CompletionRate)})
				tw.AppendSeparator()
				tw.AppendRow(table.Row{"suppliers", s.Suppliers.Total})
				tw.AppendRow(table.Row{"active", s.Suppliers.Active})
				tw.AppendRow(table.Row{"inactive", s.Suppliers.Inactive})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", engine.PeriodAll, "today, week, month or all")
	cmd.AddCommand(statsDailyCmd())
	cmd.AddCommand(statsPerformanceCmd())
	cmd.AddCommand(statsActivityCmd())
	cmd.AddCommand(statsDistributionCmd())
	return cmd
}

func statsDailyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Orders created per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.DailyOrders(ctx, days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Orders"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.Date, d.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", engine.DefaultReportDays, "number of days, at most 30")
	return cmd
}

func statsPerformanceCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Suppliers ranked by completion rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.SupplierPerformance(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Supplier", "Total", "Completed", "Declined", "Rate"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.SupplierID, p.Name, p.TotalOrders, p.CompletedOrders, p.DeclinedOrders, fmt.Sprintf("%.2f%%", p.CompletionRate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultPerformanceLimit, "number of suppliers, at most 50")
	return cmd
}

func statsActivityCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Activity per action and per hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ActivityStats(ctx, hours)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				actions := make([]string, 0, len(s.ActionCounts))
				for a := range s.ActionCounts {
					actions = append(actions, a)
				}
				sort.Strings(actions)
				tw := newTable()
				tw.AppendHeader(table.Row{"Action", "Count"})
				for _, a := range actions {
					tw.AppendRow(table.Row{a, s.ActionCounts[a]})
				}
				tw.AppendSeparator()
				for _, h := range s.HourlyActivity {
					tw.AppendRow(table.Row{h.Hour, h.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", engine.DefaultActivityHours, "look back this many hours, at most 168")
	return cmd
}

func statsDistributionCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "distribution",
		Short: "Order counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.StatusDistribution(ctx, period)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "Orders"})
				for _, c := range items {
					tw.AppendRow(table.Row{domain.StatusLabel(c.Status), c.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", engine.PeriodToday, "today, week, month or all")
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Activity log"}
	var n, sinceHours int
	var actor int64
	var action string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show latest activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ListActivityOptions{Action: action, SinceHours: sinceHours, Limit: n}
				if cmd.Flags().Changed("actor") {
					opts.ActorID = &actor
				}
				page, err := e.ListActivity(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Actor", "Action", "Details"})
				for _, a := range page.Items {
					tw.AppendRow(table.Row{a.ID, a.CreatedAt, a.ActorID, a.Action, a.Details})
				}
				tw.AppendFooter(table.Row{"", "", "", "total", page.Total})
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	tail.Flags().Int64Var(&actor, "actor", 0, "only entries by this actor")
	tail.Flags().StringVar(&action, "action", "", "only this action")
	tail.Flags().IntVar(&sinceHours, "since-hours", 0, "only the last N hours")
	lc.AddCommand(tail)
	lc.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "List recorded action names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actions, err := e.ListActions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				for _, a := range actions {
					fmt.Println(a)
				}
				return nil
			})
		},
	})
	return lc
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func actorID() int64 {
	return viper.GetInt64("actor-id")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func supplierName(s *int64, names map[int64]string) string {
	if s == nil {
		return "-"
	}
	if n, ok := names[*s]; ok {
		return n
	}
	return strconv.FormatInt(*s, 10)
}

func printOrders(orders []domain.Order, names map[int64]string) error {
	if viper.GetBool("json") {
		return printJSON(orders)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Status", "Supplier", "Creator", "Created", "Text"})
	for _, o := range orders {
		tw.AppendRow(table.Row{o.ID, o.Status, supplierName(o.SupplierID, names), o.CreatorID, o.CreatedAt, truncate(o.Text, 48)})
	}
	tw.Render()
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
