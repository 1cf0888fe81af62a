package harness_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/shardbench/harness/internal/harness"
	"github.com/stretchr/testify/require"
)

func TestCollectorTimeEpoch(t *testing.T) {
	c := harness.NewCollector(512)
	c.Start()

	em, err := c.TimeEpoch(0, func() (float64, error) {
		time.Sleep(20 * time.Millisecond)
		return 2.5, nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, em.Epoch)
	require.GreaterOrEqual(t, em.Elapsed, 20*time.Millisecond)
	require.InEpsilon(t, 512/em.Elapsed.Seconds(), em.Rate, 1e-9)
	require.Equal(t, 2.5, em.Cost)

	_, err = c.TimeEpoch(1, func() (float64, error) {
		return 1.25, nil
	})
	require.NoError(t, err)

	ms := c.Measurements()
	require.Len(t, ms, 2)
	require.Equal(t, []int{0, 1}, []int{ms[0].Epoch, ms[1].Epoch})
	require.Len(t, c.Rates(), 2)
	require.Equal(t, 1.25, c.FinalCost())

	overall := c.OverallRate(2)
	require.Greater(t, overall, 0.0)
}

func TestCollectorBodyErrorNotRecorded(t *testing.T) {
	c := harness.NewCollector(100)
	boom := errors.New("loader burst")

	_, err := c.TimeEpoch(0, func() (float64, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, c.Measurements())
	require.Equal(t, 0.0, c.FinalCost())
}

func TestMemMeterHighWater(t *testing.T) {
	m := harness.NewMemMeter()
	m.Reset()
	baseline := m.PeakMiB()

	block := make([]byte, 64<<20)
	for i := range block {
		block[i] = byte(i)
	}
	m.Observe()
	runtime.KeepAlive(block)

	peak := m.PeakMiB()
	require.Greater(t, peak, baseline+50)

	// the high-water mark survives the memory being released
	block = nil
	runtime.KeepAlive(block)
	runtime.GC()
	require.GreaterOrEqual(t, m.PeakMiB(), peak)
}
