package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/blingmoon/netflow-triage/model"
	"github.com/spf13/cobra"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var treeIndex int
	var depth int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show feature importances and decision rules of the configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range []struct{ name, path string }{
				{"binary", cfg.Models.BinaryPath()},
				{"multi", cfg.Models.MultiPath()},
			} {
				forest, err := model.LoadFile(item.path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s model (%s): %s\n", item.name, item.path, forest.Describe())

				importances, err := forest.FeatureImportances(cfg.Pipeline.Features)
				if err != nil {
					fmt.Fprintf(out, "  feature importances unavailable: %v\n", err)
				} else {
					fmt.Fprintln(out, renderTable(
						[]string{"Feature", "Importance"},
						importanceRows(importances),
						[]columnAlignment{alignLeft, alignRight},
					))
				}

				if treeIndex >= 0 {
					rules, err := forest.ExportText(treeIndex, cfg.Pipeline.Features, depth)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "tree %d:\n%s", treeIndex, rules)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&treeIndex, "tree", -1, "Print the rules of this tree (index in the ensemble)")
	cmd.Flags().IntVar(&depth, "depth", 3, "Maximum depth printed with --tree, 0 for unlimited")
	return cmd
}

// importanceRows 重要性降序, 相同的按名字
func importanceRows(importances map[string]float64) [][]string {
	names := make([]string, 0, len(importances))
	for name := range importances {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if importances[names[i]] != importances[names[j]] {
			return importances[names[i]] > importances[names[j]]
		}
		return names[i] < names[j]
	})
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.FormatFloat(importances[name], 'f', 4, 64)})
	}
	return rows
}
