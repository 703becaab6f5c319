package procsnap

import (
	"github.com/shirou/gopsutil/v3/process"
)

// SystemProvider collects snapshots from the live process table via
// gopsutil. Collection can be slow (it walks every process), so callers
// run it off their critical path.
type SystemProvider struct{}

func NewSystemProvider() *SystemProvider {
	return &SystemProvider{}
}

// Snapshot walks the process table once. Returns nil if the table cannot
// be listed at all. Per-process read failures (races with exiting
// processes, permission gaps) skip that process only; its pid is still
// recorded so a known-alive pid is never reported missing just because
// its metadata was unreadable.
func (p *SystemProvider) Snapshot() *Snapshot {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	entries := make([]Entry, 0, len(procs))
	for _, proc := range procs {
		entry := Entry{PID: int(proc.Pid)}
		if ppid, err := proc.Ppid(); err == nil {
			entry.PPID = int(ppid)
		}
		if tty, err := proc.Terminal(); err == nil {
			entry.TTY = tty
		}
		entries = append(entries, entry)
	}
	return New(entries)
}
