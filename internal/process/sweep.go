package process

import (
	"context"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// SweepRequest selects processes whose command line contains any of
// Patterns. When Within is set, a match must also have its working
// directory at or below Within, so generic patterns such as a shared script
// name cannot reach another agent's processes.
type SweepRequest struct {
	Patterns []string
	Within   string
	// MinPatternLen drops patterns shorter than this. Zero means 3.
	MinPatternLen int
}

// PatternSweeper kills matching processes with SIGKILL, the way
// "pkill -9 -f" would, but never signals itself or its parent.
type PatternSweeper struct{}

// Sweep returns the pids it signaled. Per-process errors are skipped.
func (PatternSweeper) Sweep(ctx context.Context, req SweepRequest) ([]int, error) {
	patterns := usablePatterns(req.Patterns, req.MinPatternLen)
	if len(patterns) == 0 {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self, parent := int32(os.Getpid()), int32(os.Getppid())
	var killed []int
	for _, p := range procs {
		if ctx.Err() != nil {
			return killed, ctx.Err()
		}
		if p.Pid == self || p.Pid == parent || p.Pid <= 1 {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" || !matchesAny(cmdline, patterns) {
			continue
		}
		if req.Within != "" {
			cwd, err := p.CwdWithContext(ctx)
			if err != nil || !underDir(req.Within, cwd) {
				continue
			}
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed = append(killed, int(p.Pid))
		}
	}
	return killed, nil
}

func usablePatterns(in []string, minLen int) []string {
	if minLen <= 0 {
		minLen = 3
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if len(p) < minLen {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func matchesAny(cmdline string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(cmdline, p) {
			return true
		}
	}
	return false
}

func underDir(root, dir string) bool {
	root = strings.TrimRight(root, string(os.PathSeparator))
	return dir == root || strings.HasPrefix(dir, root+string(os.PathSeparator))
}
