//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {}

func maxRSSKB(state *os.ProcessState) int64 { return 0 }
