package observe

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSamplerObservesSelf(t *testing.T) {
	s := StartSampler(os.Getpid(), 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	usage := s.Stop()

	assert.Greater(t, usage.Samples, 0)
	assert.Greater(t, usage.PeakRSSBytes, uint64(0))
}

func TestSamplerDisabled(t *testing.T) {
	s := StartSampler(os.Getpid(), 0)
	usage := s.Stop()

	assert.Equal(t, Usage{}, usage)
}

func TestSamplerMissingPID(t *testing.T) {
	// PIDs this large are not handed out on any supported platform
	s := StartSampler(1<<30, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	usage := s.Stop()

	assert.Equal(t, 0, usage.Samples)
}

func TestTimingComplete(t *testing.T) {
	tm := NewTiming()
	time.Sleep(5 * time.Millisecond)
	tm.Complete()
	first := tm.CompletedAt
	tm.Complete()

	assert.Equal(t, first, tm.CompletedAt)
	assert.GreaterOrEqual(t, tm.Duration(), 5*time.Millisecond)
}
