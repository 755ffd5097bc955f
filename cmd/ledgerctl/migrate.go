package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/congo-pay/mobile_ledger/internal/accounts"
)

func newMigrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and ensure system accounts",
		Long: `Apply the embedded schema migrations to the configured SQL backend and
open the system accounts (fee revenue, tax payable, suspense, overdraft
facility) for every currency in LEDGER_CURRENCIES.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := accounts.NewService(s.backend.Store, s.logger)
			if err := svc.EnsureSystemAccounts(cmd.Context(), s.cfg.Currencies...); err != nil {
				return err
			}
			pterm.Success.Printf("Schema up to date on %s; system accounts ready for %v\n", s.cfg.StoreBackend, s.cfg.Currencies)
			return nil
		},
	}
}
