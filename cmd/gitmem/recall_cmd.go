// cmd/gitmem/recall_cmd.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// searchFilters holds the flags shared by the query commands.
type searchFilters struct {
	memType   string
	spec      string
	status    string
	tags      []string
	sinceDays int
}

func (sf *searchFilters) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sf.memType, "type", "", "restrict to one memory type")
	cmd.Flags().StringVar(&sf.spec, "spec", "", "restrict to one spec")
	cmd.Flags().StringVar(&sf.status, "status", "", "restrict to one lifecycle status")
	cmd.Flags().StringSliceVar(&sf.tags, "tag", nil, "require one of these tags (repeatable)")
	cmd.Flags().IntVar(&sf.sinceDays, "since-days", 0, "only memories newer than N days")
}

func (sf *searchFilters) build(repoPath string) types.Filters {
	f := types.Filters{
		RepoPath:  repoPath,
		Namespace: types.Namespace(sf.memType),
		Spec:      sf.spec,
		Status:    types.Status(sf.status),
		TagsAny:   sf.tags,
	}
	if sf.sinceDays > 0 {
		f.Since = time.Now().AddDate(0, 0, -sf.sinceDays)
	}
	return f
}

func searchCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	var sf searchFilters
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			query := strings.Join(args, " ")
			results, err := svc.Recall.Search(cmd.Context(), query, limit, sf.build(svc.RepoPath()))
			if err != nil {
				fail(err)
			}
			printResults(results, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	sf.register(cmd)
	return cmd
}

func recallCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "recall <id>...",
		Short: "Hydrate memories by id (summary, full body, or file snapshots)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			lvl, err := parseHydration(level)
			if err != nil {
				fail(err)
			}
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			hydrated, err := svc.Recall.Hydrate(cmd.Context(), args, lvl)
			if err != nil {
				fail(err)
			}
			data, _ := json.MarshalIndent(hydrated, "", "  ")
			fmt.Println(string(data))
		},
	}
	cmd.Flags().StringVar(&level, "level", "full", "hydration level: summary, full, files")
	return cmd
}

func recentCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	var sf searchFilters
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent memories",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			memories, err := svc.Recall.Recent(cmd.Context(), sf.build(svc.RepoPath()), limit)
			if err != nil {
				fail(err)
			}
			printMemories(memories, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	sf.register(cmd)
	return cmd
}

func contextCmd() *cobra.Command {
	var perSection int
	cmd := &cobra.Command{
		Use:   "context <spec>",
		Short: "Assemble the working context bundle for a spec",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			bundle, err := svc.Recall.Context(cmd.Context(), args[0], perSection)
			if err != nil {
				fail(err)
			}
			data, _ := json.MarshalIndent(bundle, "", "  ")
			fmt.Println(string(data))
		},
	}
	cmd.Flags().IntVar(&perSection, "per-section", 5, "memories per section")
	return cmd
}

func similarCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "similar <id>",
		Short: "Find memories similar to an existing one",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			results, err := svc.Recall.Similar(cmd.Context(), args[0], limit, types.Filters{RepoPath: svc.RepoPath()})
			if err != nil {
				fail(err)
			}
			printResults(results, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func parseHydration(level string) (types.HydrationLevel, error) {
	switch level {
	case "summary":
		return types.HydrateSummary, nil
	case "full":
		return types.HydrateFull, nil
	case "files":
		return types.HydrateFiles, nil
	}
	return 0, types.Validation("level", "unknown hydration level "+level, "use summary, full, or files")
}

func printResults(results []types.MemoryResult, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(results) == 0 {
		fmt.Println("No matching memories found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTYPE\tSCORE\tSUMMARY\n")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", r.ID, r.Namespace, r.Distance, truncateStr(r.Summary, 60))
	}
	tw.Flush()
}

func printMemories(memories []types.Memory, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(memories, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(memories) == 0 {
		fmt.Println("No memories found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTYPE\tSTATUS\tWHEN\tSUMMARY\n")
	for _, m := range memories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Namespace, m.Status,
			m.Timestamp.Format(time.DateOnly),
			truncateStr(m.Summary, 60))
	}
	tw.Flush()
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
