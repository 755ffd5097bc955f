package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/congo-pay/mobile_ledger/internal/config"
	"github.com/congo-pay/mobile_ledger/internal/infra"
	"github.com/congo-pay/mobile_ledger/internal/logging"
)

// session holds what every subcommand needs once the store is open.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	backend infra.Backend

	backendFlag string
	sqliteFlag  string
	dbURLFlag   string
}

func (s *session) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if s.backendFlag != "" {
		cfg.StoreBackend = strings.ToLower(s.backendFlag)
	}
	if s.sqliteFlag != "" {
		cfg.SQLitePath = s.sqliteFlag
	}
	if s.dbURLFlag != "" {
		cfg.DatabaseURL = s.dbURLFlag
	}
	s.cfg = cfg
	s.logger = logging.New("error", "ledgerctl")

	backend, err := infra.OpenStore(cmd.Context(), cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	s.backend = backend
	return nil
}

func (s *session) close(*cobra.Command, []string) error {
	if s.backend.Store == nil {
		return nil
	}
	return s.backend.Close()
}

// Execute runs the ledgerctl root command.
func Execute() {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:                "ledgerctl",
		Short:              "ledgerctl inspects and maintains the mobile money ledger",
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  s.open,
		PersistentPostRunE: s.close,
	}

	rootCmd.PersistentFlags().StringVar(&s.backendFlag, "backend", "", "store backend (memory, postgres, sqlite); defaults to STORE_BACKEND")
	rootCmd.PersistentFlags().StringVar(&s.sqliteFlag, "sqlite-path", "", "SQLite database file; defaults to SQLITE_PATH")
	rootCmd.PersistentFlags().StringVar(&s.dbURLFlag, "database-url", "", "PostgreSQL URL; defaults to DATABASE_URL")

	rootCmd.AddCommand(newMigrateCmd(s))
	rootCmd.AddCommand(newVerifyCmd(s))
	rootCmd.AddCommand(newBalanceCmd(s))
	rootCmd.AddCommand(newJournalsCmd(s))
	rootCmd.AddCommand(newExpireCmd(s))

	return rootCmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
