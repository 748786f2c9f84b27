//go:build unix

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hpoprun/pkg/logging"
)

func TestWaitWithContextSignal(t *testing.T) {
	m := New(time.Second, logging.Discard())
	m.signals = append(m.signals[:0], syscall.SIGUSR1)

	errc := make(chan error, 1)
	go func() { errc <- m.WaitWithContext(context.Background()) }()

	// keep SIGUSR1 from killing the test binary before the manager listens
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitWithContext did not return after signal")
	}
}
