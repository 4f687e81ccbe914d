// Command auditctl operates an audit chain store directly: it registers
// scopes, appends and tails events, verifies chains and can run the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"auditchain/internal/config"
	"auditchain/internal/infra/cachemem"
	"auditchain/internal/infra/db"
	"auditchain/internal/logging"
	"auditchain/internal/usecase"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, os.Stdout, os.Stderr, os.Args[1:]...); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	out        io.Writer
	errOut     io.Writer

	cfg    config.Config
	logger *slog.Logger
	store  *db.Store
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Operate hash-chained audit logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config (defaults to $"+config.ConfigPathEnv+")")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.appendCmd(),
		a.tailCmd(),
		a.verifyCmd(),
		a.scopeCmd(),
	)
	return root
}

func execute(ctx context.Context, out, errOut io.Writer, args ...string) error {
	a := &app{out: out, errOut: errOut}
	defer a.close()
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
	}
	return err
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(a.errOut, cfg.LogLevel, cfg.LogFormat)
	return nil
}

// open loads config and opens (and migrates) the store once per invocation.
func (a *app) open(ctx context.Context) (*db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.loadConfig(); err != nil {
		return nil, err
	}
	store, err := db.NewStore(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) chain(store *db.Store) *usecase.AuditChain {
	chain := usecase.NewAuditChain(db.NewAuditEventRepository(store.DB))
	chain.Logger = a.logger
	if a.cfg.AppendMaxRetries > 0 {
		chain.MaxRetries = a.cfg.AppendMaxRetries
	}
	return chain
}

func (a *app) scopes(store *db.Store) *usecase.ScopeService {
	recorder := usecase.NewRecorder(a.chain(store), a.logger)
	return usecase.NewScopeService(db.NewScopeRepository(store.DB), recorder, cachemem.New(), a.cfg.ScopeCacheTTL(), nil)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
