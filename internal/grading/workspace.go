package grading

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	referenceDirName  = "reference"
	submissionDirName = "submission"
)

// Workspace is the scratch directory owned by exactly one grading run.
type Workspace struct {
	ID   string
	Root string
}

// NewWorkspace creates a uniquely named directory under scratchRoot with
// empty reference and submission subtrees.
func NewWorkspace(scratchRoot string) (*Workspace, error) {
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}

	id := uuid.NewString()
	ws := &Workspace{ID: id, Root: filepath.Join(scratchRoot, "grading-"+id)}

	// Mkdir fails if the path exists, so a run never adopts another's tree.
	if err := os.Mkdir(ws.Root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	for _, dir := range []string{ws.ReferenceDir(), ws.SubmissionDir()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(ws.Root)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return ws, nil
}

func (w *Workspace) ReferenceDir() string {
	return filepath.Join(w.Root, referenceDirName)
}

func (w *Workspace) SubmissionDir() string {
	return filepath.Join(w.Root, submissionDirName)
}

// Destroy recursively deletes the workspace.
func (w *Workspace) Destroy() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.ID, err)
	}
	return nil
}
