package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/thiwi/valiax/internal/recorder"
)

type execResult struct {
	recorder.Outcome
	RowKeys []string `json:"row_keys,omitempty"`
}

func newExecCmd(a *app) *cobra.Command {
	var connID string
	cmd := &cobra.Command{
		Use:   "exec --conn <connection-id> <rule-id>...",
		Short: "Evaluate rules of a connection now and print the outcomes without recording them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if connID == "" {
				return errors.New("--conn is required")
			}
			r, _, cleanup, err := a.runnerDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return writeOutcomes(cmd.OutOrStdout(), r.Execute(cmd.Context(), connID, args))
		},
	}
	cmd.Flags().StringVar(&connID, "conn", "", "connection id the rules belong to")
	return cmd
}

func writeOutcomes(w io.Writer, outcomes []recorder.Outcome) error {
	results := make([]execResult, 0, len(outcomes))
	for _, o := range outcomes {
		res := execResult{Outcome: o}
		res.FailedCount = o.FailedRows()
		for _, row := range o.Offending {
			res.RowKeys = append(res.RowKeys, row.Key)
		}
		results = append(results, res)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
