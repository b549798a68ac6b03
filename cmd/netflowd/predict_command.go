package main

import (
	"fmt"
	"strconv"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/blingmoon/netflow-triage/frame"
	"github.com/spf13/cobra"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var mode string
	var batchID string

	cmd := &cobra.Command{
		Use:   "predict <flows.csv>",
		Short: "Classify every row of a CSV file and print a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctx.logger(cmd.ErrOrStderr())
			batch, err := frame.ReadCSVFile(frame.CSVPath(args[0]))
			if err != nil {
				return err
			}
			predictor, err := ctx.newPredictor(logger)
			if err != nil {
				return err
			}
			result, err := predictor.Predict(cmd.Context(), &detector.PredictReq{
				BatchID: batchID,
				Batch:   batch,
				Mode:    mode,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Row", "Label", "Probability", "Terminal", "Error"},
				resultRows(result),
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Batch %s: %d rows, %d failed\n", result.BatchID, len(result.Rows), len(result.Failed()))
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Override pipeline.mode (predict or proba)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch id used for locking and audit")
	return cmd
}

func resultRows(result *detector.BatchResult) [][]string {
	rows := make([][]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		probability := "-"
		if row.Probability != nil {
			probability = strconv.FormatFloat(*row.Probability, 'f', 4, 64)
		}
		errText := ""
		if row.Err != nil {
			errText = row.Err.Error()
		}
		rows = append(rows, []string{strconv.Itoa(row.Index), row.Label, probability, row.Terminal, errText})
	}
	return rows
}
