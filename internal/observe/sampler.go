package observe

// Sampling is passive and best effort. A sample that fails is skipped;
// the child is never touched.

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is what the sampler saw of a child process
type Usage struct {
	PeakRSSBytes uint64
	CPUSeconds   float64
	Samples      int
}

// Sampler polls RSS and CPU time of a single PID until stopped
type Sampler struct {
	pid      int32
	interval time.Duration

	mu    sync.Mutex
	usage Usage

	cancel context.CancelFunc
	done   chan struct{}
}

// StartSampler begins sampling pid every interval.
// An interval <= 0 disables sampling; Stop still works.
func StartSampler(pid int, interval time.Duration) *Sampler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sampler{
		pid:      int32(pid),
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if interval <= 0 {
		close(s.done)
		return s
	}

	go s.loop(ctx)
	return s
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	proc, err := process.NewProcessWithContext(ctx, s.pid)
	if err != nil {
		return // Child already gone or not visible
	}

	s.sample(ctx, proc)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, proc)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, proc *process.Process) {
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	times, cpuErr := proc.TimesWithContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if memErr == nil && mem != nil && mem.RSS > s.usage.PeakRSSBytes {
		s.usage.PeakRSSBytes = mem.RSS
	}
	if cpuErr == nil && times != nil {
		s.usage.CPUSeconds = times.User + times.System
	}
	if memErr == nil || cpuErr == nil {
		s.usage.Samples++
	}
}

// Stop ends sampling and returns the collected usage
func (s *Sampler) Stop() Usage {
	s.cancel()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
