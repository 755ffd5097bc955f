package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/congo-pay/mobile_ledger/internal/accounts"
	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

func newBalanceCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <owner-type> <owner-id> <category> <currency>",
		Short: "Show the balance of one account",
		Example: `  ledgerctl balance customer alice wallet XAF
  ledgerctl balance system system fee_revenue XAF`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerType, err := journal.ParseOwnerType(args[0])
			if err != nil {
				return err
			}
			category, err := journal.ParseCategory(args[2])
			if err != nil {
				return err
			}
			owner := journal.Owner{Type: ownerType, ID: args[1]}
			ref := owner.Ref(category, strings.ToUpper(args[3]))

			bal, err := accounts.NewService(s.backend.Store, s.logger).Balance(cmd.Context(), ref)
			if err != nil {
				return err
			}

			limit := amount.Format(bal.Account.OverdraftLimit)
			if bal.Account.Unlimited {
				limit = "unlimited"
			}
			pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
				{"Account", "Balance", "Overdraft limit"},
				{ref.Code(), fmt.Sprintf("%s %s", amount.Format(bal.Amount), ref.Currency), limit},
			}).Render()
			return nil
		},
	}
}
