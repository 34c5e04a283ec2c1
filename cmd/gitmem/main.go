// cmd/gitmem/main.go
// gitmem is the local CLI over the git-notes memory store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/gitinfo"
	"github.com/MereWhiplash/gitmem/internal/service"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// version is set by goreleaser via ldflags
var version = "dev"

// Exit codes, stable for scripting.
const (
	exitOK          = 0
	exitGeneric     = 1
	exitValidation  = 2
	exitStorage     = 3
	exitIndex       = 4
	exitEmbedding   = 5
	exitLockTimeout = 6
)

var repoFlag string

func main() {
	root := &cobra.Command{
		Use:           "gitmem",
		Short:         "Git-native memory store with semantic recall",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository path (default: enclosing git repo)")

	root.AddCommand(captureCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(recallCmd())
	root.AddCommand(recentCmd())
	root.AddCommand(contextCmd())
	root.AddCommand(similarCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(gcCmd())
	root.AddCommand(archiveCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(patternCmd())

	if err := root.Execute(); err != nil {
		fail(err)
	}
}

// fail prints err with its recovery action and exits with the code for
// its error kind.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var typed *types.Error
	if errors.As(err, &typed) && typed.RecoveryAction != "" {
		fmt.Fprintf(os.Stderr, "Recovery: %s\n", typed.RecoveryAction)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if types.IsSub(err, types.KindCapture, types.SubLockTimeout) {
		return exitLockTimeout
	}
	switch types.KindOf(err) {
	case types.KindValidation:
		return exitValidation
	case types.KindStorage, types.KindParse, types.KindCapture:
		return exitStorage
	case types.KindIndex:
		return exitIndex
	case types.KindEmbedding:
		return exitEmbedding
	}
	return exitGeneric
}

// openService builds the service for the target repo. Callers must Close.
func openService(ctx context.Context) (*service.Service, error) {
	repoPath := repoFlag
	if repoPath == "" {
		repoPath = gitinfo.CurrentRepoPath()
	}
	if repoPath == "" {
		return nil, types.Storage(types.SubNotAGitRepo,
			"not inside a git repository",
			"run from a work tree or pass --repo", nil)
	}
	logger := log.New(os.Stderr, "", 0)
	return service.Open(ctx, repoPath, config.FromEnv(), logger)
}
