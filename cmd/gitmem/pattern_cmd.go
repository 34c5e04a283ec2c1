// cmd/gitmem/pattern_cmd.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/gitmem/internal/types"
)

func patternCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Mine and manage recurring patterns",
	}
	cmd.AddCommand(patternMineCmd())
	cmd.AddCommand(patternPromoteCmd())
	cmd.AddCommand(patternDemoteCmd())
	return cmd
}

func patternMineCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Cluster memories into candidate patterns",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			patterns, err := svc.Pattern.Mine(cmd.Context(), svc.RepoPath(), limit)
			if err != nil {
				fail(err)
			}
			printPatterns(patterns, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum patterns")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func patternPromoteCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "promote <name>",
		Short: "Promote a mined pattern into the patterns namespace",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			patterns, err := svc.Pattern.Mine(cmd.Context(), svc.RepoPath(), 100)
			if err != nil {
				fail(err)
			}
			var found *types.Pattern
			for i := range patterns {
				if patterns[i].Name == args[0] {
					found = &patterns[i]
					break
				}
			}
			if found == nil {
				fail(types.Validation("name", "no mined pattern named "+args[0],
					"run 'gitmem pattern mine' to list current candidates"))
			}

			res, err := svc.Pattern.Promote(cmd.Context(), *found, spec)
			if err != nil {
				fail(err)
			}
			printCaptureResult(res)
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "spec to file the pattern under")
	return cmd
}

func patternDemoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demote <id>",
		Short: "Demote a promoted pattern",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			if err := svc.Pattern.Demote(cmd.Context(), args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("Demoted %s\n", args[0])
		},
	}
}

func printPatterns(patterns []types.Pattern, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(patterns, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(patterns) == 0 {
		fmt.Println("No patterns found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tTYPE\tSTATUS\tCONF\tEVIDENCE\tSUMMARY\n")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			p.Name, p.Type, p.Status, p.Confidence, len(p.Evidence),
			truncateStr(p.Summary, 50))
	}
	tw.Flush()
}
