package probe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/noah-isme/gema-grader/pkg/runner"
)

const defaultPollInterval = 20 * time.Millisecond

// ProcessProbe measures a host process by polling the resident memory of its
// process tree and reading CPU time from the exit status.
type ProcessProbe struct {
	runner   runner.Runner
	interval time.Duration
}

// NewProcessProbe constructs a polling probe. The runner must honour
// Invocation.Watch, which in practice means the local runner.
func NewProcessProbe(r runner.Runner, interval time.Duration) *ProcessProbe {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ProcessProbe{runner: r, interval: interval}
}

func (p *ProcessProbe) Name() string { return "process" }

func (p *ProcessProbe) Measure(ctx context.Context, inv runner.Invocation) (Measurement, error) {
	var peak atomic.Uint64
	watched := inv
	watched.Watch = func(watchCtx context.Context, pid int) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if rss := treeRSS(int32(pid)); rss > peak.Load() {
				peak.Store(rss)
			}
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}

	result, err := p.runner.Run(ctx, watched)
	if err != nil {
		return Measurement{Result: result}, err
	}
	if !result.Succeeded() {
		return Measurement{Result: result}, fmt.Errorf("%w: %s exited %d", ErrMeasuredRunFailed, inv.String(), result.ExitCode)
	}

	maxRSS := int64(peak.Load() / 1024)
	if result.MaxRSSKB > maxRSS {
		maxRSS = result.MaxRSSKB
	}
	if maxRSS == 0 {
		return Measurement{Result: result}, fmt.Errorf("%w: no memory samples for %s", ErrUnparsableOutput, inv.String())
	}

	return Measurement{
		UserSeconds: result.UserTime.Seconds(),
		MaxRSSKB:    maxRSS,
		Result:      result,
	}, nil
}

// treeRSS sums the resident set size in bytes of pid and its descendants.
// Processes that exit mid-walk are ignored.
func treeRSS(pid int32) uint64 {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0
	}

	var total uint64
	if mem, err := proc.MemoryInfo(); err == nil {
		total += mem.RSS
	}

	children, err := proc.Children()
	if err != nil {
		return total
	}
	for _, child := range children {
		total += treeRSS(child.Pid)
	}
	return total
}
