package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/congo-pay/mobile_ledger/internal/amount"
)

func newJournalsCmd(s *session) *cobra.Command {
	flags := &rangeFlags{}
	var limit int
	cmd := &cobra.Command{
		Use:   "journals",
		Short: "List journals created in a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := flags.resolve(time.Now().UTC())
			if err != nil {
				return err
			}
			js, err := s.backend.Store.JournalsInRange(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if len(js) == 0 {
				pterm.Warning.Println("No journals found")
				return nil
			}
			if limit > 0 && len(js) > limit {
				js = js[len(js)-limit:]
			}

			tableData := pterm.TableData{{"Seq", "ID", "Type", "Amount", "Actor", "Created", "Reversal of"}}
			for _, j := range js {
				tableData = append(tableData, []string{
					fmt.Sprint(j.Sequence),
					j.ID,
					string(j.Type),
					fmt.Sprintf("%s %s", amount.Format(j.Total()), j.Currency),
					j.ActorID,
					j.CreatedAt.Format(time.RFC3339),
					j.ReversalOf,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "show at most this many of the newest journals")
	return cmd
}
