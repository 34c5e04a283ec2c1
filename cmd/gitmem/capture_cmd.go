// cmd/gitmem/capture_cmd.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/types"
)

func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record a memory against the current commit",
	}
	for _, ns := range types.Namespaces {
		cmd.AddCommand(captureTypeCmd(ns))
	}
	return cmd
}

func captureTypeCmd(ns types.Namespace) *cobra.Command {
	var (
		content   string
		spec      string
		phase     string
		commit    string
		tags      []string
		relatesTo []string
		rationale string
		impact    string
	)
	cmd := &cobra.Command{
		Use:   string(ns) + " <summary>",
		Short: fmt.Sprintf("Capture a %s memory", ns),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			body, err := resolveContent(content)
			if err != nil {
				fail(err)
			}
			if rationale != "" || impact != "" {
				body = capture.DecisionBody(body, rationale, impact)
			}
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			res, err := svc.Capture.Capture(cmd.Context(), capture.Request{
				Namespace: ns,
				Summary:   args[0],
				Content:   body,
				Spec:      spec,
				Phase:     phase,
				Commit:    commit,
				Tags:      tags,
				RelatesTo: relatesTo,
			})
			if err != nil {
				fail(err)
			}
			printCaptureResult(res)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "memory body ('-' reads stdin)")
	cmd.Flags().StringVar(&spec, "spec", "", "spec or feature this memory belongs to")
	cmd.Flags().StringVar(&phase, "phase", "", "workflow phase")
	cmd.Flags().StringVar(&commit, "commit", "", "commit to attach to (default HEAD)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringSliceVar(&relatesTo, "relates-to", nil, "related memory id (repeatable)")
	if ns == types.NSDecisions {
		cmd.Flags().StringVar(&rationale, "rationale", "", "why the decision was made")
		cmd.Flags().StringVar(&impact, "impact", "", "expected impact")
	}
	return cmd
}

func resolveCmd() *cobra.Command {
	var (
		resolution string
		summary    string
		spec       string
	)
	cmd := &cobra.Command{
		Use:   "resolve <blocker-id>",
		Short: "Resolve a blocker and record how it was cleared",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			res, err := svc.Capture.ResolveBlocker(cmd.Context(), args[0], resolution, capture.Request{
				Summary: summary,
				Spec:    spec,
			})
			if err != nil {
				fail(err)
			}
			printCaptureResult(res)
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "how the blocker was resolved")
	cmd.Flags().StringVar(&summary, "summary", "", "summary for the resolution memory")
	cmd.Flags().StringVar(&spec, "spec", "", "spec or feature")
	cmd.MarkFlagRequired("resolution")
	return cmd
}

// resolveContent expands "-" into stdin.
func resolveContent(content string) (string, error) {
	if content != "-" {
		return content, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func printCaptureResult(res types.CaptureResult) {
	fmt.Printf("Captured %s\n", res.ID)
	if !res.Indexed {
		fmt.Println("Note: memory is in git but not yet indexed; run 'gitmem sync'")
	}
	if res.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Warning)
	}
}
