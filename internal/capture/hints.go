// internal/capture/hints.go
package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// RepairHint records a capture whose note reached git but whose index
// write failed. The syncer consumes hints to repair targeted ids instead
// of scanning every ref.
type RepairHint struct {
	ID        string    `json:"id"`
	RepoPath  string    `json:"repo_path"`
	Namespace string    `json:"namespace"`
	CommitSHA string    `json:"commit_sha"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// writeRepairHint drops a hint file in the repo's data directory. Failures
// are swallowed: the periodic verify pass catches anything hints miss.
func writeRepairHint(dir string, hint RepairHint) {
	hintDir := filepath.Join(dir, "repair_hints")
	if err := os.MkdirAll(hintDir, 0o700); err != nil {
		return
	}
	hint.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(hint)
	if err != nil {
		return
	}
	tmp := filepath.Join(hintDir, "."+uuid.NewString()+".tmp")
	final := filepath.Join(hintDir, uuid.NewString()+".json")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	os.Rename(tmp, final)
}

// ReadRepairHints loads and removes all pending hints for a repo.
func ReadRepairHints(dir string) []RepairHint {
	hintDir := filepath.Join(dir, "repair_hints")
	entries, err := os.ReadDir(hintDir)
	if err != nil {
		return nil
	}
	var hints []RepairHint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(hintDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var h RepairHint
		if err := json.Unmarshal(data, &h); err == nil {
			hints = append(hints, h)
		}
		os.Remove(path)
	}
	return hints
}
