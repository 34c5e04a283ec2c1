// cmd/gitmem/sync_cmd.go
package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the index with git notes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			report, err := svc.Sync(cmd.Context(), full)
			if err != nil {
				fail(err)
			}
			fmt.Printf("Ingested %d, removed %d, unchanged %d\n",
				report.Ingested, report.Removed, report.Unchanged)
			if report.SkippedBlocks > 0 {
				fmt.Printf("Skipped %d unparseable blocks\n", report.SkippedBlocks)
			}
			if report.EmbedFailures > 0 {
				fmt.Printf("%d memories indexed without embeddings\n", report.EmbedFailures)
			}
			if report.HintsConsumed > 0 {
				fmt.Printf("Consumed %d repair hints\n", report.HintsConsumed)
			}
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "drop and rebuild the index for this repo")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and git/index agreement",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			stats, report, err := svc.Status(cmd.Context())
			if err != nil {
				fail(err)
			}
			out := struct {
				Stats        interface{} `json:"stats"`
				Verification interface{} `json:"verification"`
			}{stats, report}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
		},
	}
	return cmd
}

func verifyCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check git notes against the index",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			report, err := svc.Syncer.VerifyConsistency(cmd.Context())
			if err != nil {
				fail(err)
			}
			if repair && !report.Clean() {
				report, err = svc.Syncer.VerifyAndRepair(cmd.Context())
				if err != nil {
					fail(err)
				}
			}
			data, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(data))
			if report.Clean() {
				fmt.Println("Index and git notes agree.")
			}
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "run an incremental sync if drift is found")
	return cmd
}
