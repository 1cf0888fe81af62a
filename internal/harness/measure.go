package harness

import (
	"runtime"
	"time"
)

// EpochMeasurement records one timed epoch. Appended once, never
// mutated.
type EpochMeasurement struct {
	Epoch   int
	Elapsed time.Duration
	Rate    float64
	Cost    float64
}

// Collector times epochs against the monotonic clock and accumulates
// the measurements in epoch order. One collector per worker.
type Collector struct {
	dataSize     int
	runStart     time.Time
	measurements []EpochMeasurement
}

func NewCollector(dataSize int) *Collector {
	return &Collector{dataSize: dataSize}
}

// Start marks the beginning of the whole run window
func (c *Collector) Start() {
	c.runStart = time.Now()
}

// TimeEpoch runs the body and records its elapsed time and rate. The
// body returns the epoch's final cost. The window covers the batch
// loop only; whatever the caller does between epochs stays out of the
// per-epoch rate.
func (c *Collector) TimeEpoch(epoch int, body func() (float64, error)) (EpochMeasurement, error) {
	start := time.Now()
	cost, err := body()
	if err != nil {
		return EpochMeasurement{}, err
	}
	elapsed := time.Since(start)
	m := EpochMeasurement{
		Epoch:   epoch,
		Elapsed: elapsed,
		Rate:    float64(c.dataSize) / elapsed.Seconds(),
		Cost:    cost,
	}
	c.measurements = append(c.measurements, m)
	return m, nil
}

// Measurements returns the recorded epochs in order
func (c *Collector) Measurements() []EpochMeasurement {
	return c.measurements
}

// Rates returns just the per-epoch rates, in epoch order
func (c *Collector) Rates() []float64 {
	rates := make([]float64, len(c.measurements))
	for i, m := range c.measurements {
		rates[i] = m.Rate
	}
	return rates
}

// OverallRate is the throughput over the whole run window, all epochs
// included, consolidation pauses and all.
func (c *Collector) OverallRate(epochs int) float64 {
	return float64(c.dataSize) / time.Since(c.runStart).Seconds() * float64(epochs)
}

// FinalCost returns the last epoch's cost, or zero before any epoch
// has completed.
func (c *Collector) FinalCost() float64 {
	if len(c.measurements) == 0 {
		return 0
	}
	return c.measurements[len(c.measurements)-1].Cost
}

const bytesPerMiB = 1 << 20

// MemMeter tracks the high-water mark of the heap across a run, the
// allocator peak the gate's memory check reads. Reset once at run
// start, observed between epochs, read once at run end.
type MemMeter struct {
	peak uint64
}

func NewMemMeter() *MemMeter {
	return &MemMeter{}
}

// Reset sets the high-water mark to the current heap usage
func (m *MemMeter) Reset() {
	m.peak = heapInUse()
}

// Observe folds the current heap usage into the high-water mark
func (m *MemMeter) Observe() {
	if h := heapInUse(); h > m.peak {
		m.peak = h
	}
}

// PeakMiB observes once more and returns the high-water mark in MiB
func (m *MemMeter) PeakMiB() float64 {
	m.Observe()
	return float64(m.peak) / bytesPerMiB
}

// CurrentMiB returns the live heap usage in MiB
func (m *MemMeter) CurrentMiB() float64 {
	return float64(heapInUse()) / bytesPerMiB
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
