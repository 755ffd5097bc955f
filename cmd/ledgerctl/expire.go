package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/congo-pay/mobile_ledger/internal/ledger"
)

func newExpireCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-idempotency",
		Short: "Delete idempotency records past their expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := ledger.NewSweeper(s.backend.Store, s.logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			pterm.Success.Printf("Removed %d expired idempotency record(s)\n", n)
			return nil
		},
	}
}
