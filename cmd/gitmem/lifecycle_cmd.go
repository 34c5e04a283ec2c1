// cmd/gitmem/lifecycle_cmd.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Age, archive, and tombstone stale memories",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			report, err := svc.Lifecycle.Sweep(cmd.Context(), svc.RepoPath(), dryRun)
			if err != nil {
				fail(err)
			}
			prefix := ""
			if dryRun {
				prefix = "[dry run] "
			}
			fmt.Printf("%sExamined %d: %d aged, %d archived, %d tombstoned\n",
				prefix, report.Examined, report.Aged, report.Archived, report.Tombstoned)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	return cmd
}

func gcCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete tombstones past the garbage-collection horizon",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			report, err := svc.Lifecycle.GC(cmd.Context(), svc.RepoPath(), dryRun)
			if err != nil {
				fail(err)
			}
			prefix := ""
			if dryRun {
				prefix = "[dry run] "
			}
			fmt.Printf("%sRemoved %d of %d tombstones\n", prefix, report.Removed, report.Examined)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	return cmd
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a memory now (compresses its body)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			if err := svc.Lifecycle.Archive(cmd.Context(), args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("Archived %s\n", args[0])
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived or tombstoned memory to active",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := openService(cmd.Context())
			if err != nil {
				fail(err)
			}
			defer svc.Close()

			if err := svc.Lifecycle.Restore(cmd.Context(), args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("Restored %s\n", args[0])
		},
	}
}
