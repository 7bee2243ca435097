package ports_test

import (
	"sync"
	"testing"

	"training-manager/core/ports"

	"github.com/stretchr/testify/require"
)

func TestAcquireLowestFree(t *testing.T) {
	a, err := ports.NewAllocator(6006, 3)
	require.NoError(t, err)

	p1, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 6006, p1)

	p2, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 6007, p2)

	// Releasing the lowest makes it the next one handed out again.
	require.NoError(t, a.Release(p1))
	p3, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 6006, p3)
}

func TestAcquireExhausted(t *testing.T) {
	a, err := ports.NewAllocator(6006, 2)
	require.NoError(t, err)

	_, err = a.Acquire()
	require.NoError(t, err)
	_, err = a.Acquire()
	require.NoError(t, err)

	_, err = a.Acquire()
	require.ErrorIs(t, err, ports.ErrExhausted)
	require.Equal(t, 0, a.Free())
}

func TestReleaseMisuse(t *testing.T) {
	a, err := ports.NewAllocator(6006, 2)
	require.NoError(t, err)

	require.Error(t, a.Release(6006), "releasing a port that was never acquired")
	require.Error(t, a.Release(7000), "releasing a port outside the range")

	p, err := a.Acquire()
	require.NoError(t, err)
	require.NoError(t, a.Release(p))
	require.Error(t, a.Release(p), "double release")
}

func TestReserve(t *testing.T) {
	a, err := ports.NewAllocator(6006, 3)
	require.NoError(t, err)

	require.NoError(t, a.Reserve(6007))
	require.Error(t, a.Reserve(6007), "reserving a held port")
	require.Error(t, a.Reserve(6010), "reserving outside the range")

	p, err := a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 6006, p)
	p, err = a.Acquire()
	require.NoError(t, err)
	require.Equal(t, 6008, p, "reserved port must be skipped")
}

func TestInvalidRange(t *testing.T) {
	_, err := ports.NewAllocator(0, 10)
	require.Error(t, err)
	_, err = ports.NewAllocator(65530, 10)
	require.Error(t, err)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const size = 16
	a, err := ports.NewAllocator(6006, size)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p, err := a.Acquire()
				if err != nil {
					continue
				}
				require.NoError(t, a.Release(p))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, size, a.Free())
}
