package workload

import "math/rand"

// Default feature and label widths for the synthetic regression task
const (
	FeatureDim = 32
	LabelDim   = 8
)

// Batch is one slice of the synthetic dataset
type Batch struct {
	Inputs [][]float64
	Labels [][]float64
}

// Loader serves a fixed synthetic dataset in batches. The data is
// generated once from the seed, so every epoch replays the exact same
// batches after Reset.
type Loader struct {
	batchSize int
	inputs    [][]float64
	labels    [][]float64
	pos       int
}

// NewLoader builds a dataset of dataSize samples. Labels follow a
// hidden linear map of the inputs plus a little noise, so the cost of
// a fitted model can actually fall over the epochs.
func NewLoader(dataSize, batchSize, inDim, outDim int, seed int64) *Loader {
	rng := rand.New(rand.NewSource(seed))

	truth := make([]float64, outDim*(inDim+1))
	for i := range truth {
		truth[i] = rng.Float64()*2 - 1
	}

	inputs := make([][]float64, dataSize)
	labels := make([][]float64, dataSize)
	for s := 0; s < dataSize; s++ {
		x := make([]float64, inDim)
		for i := range x {
			x[i] = rng.Float64()*2 - 1
		}
		y := make([]float64, outDim)
		for o := 0; o < outDim; o++ {
			v := truth[outDim*inDim+o]
			for i, xi := range x {
				v += truth[o*inDim+i] * xi
			}
			y[o] = v + rng.NormFloat64()*0.01
		}
		inputs[s] = x
		labels[s] = y
	}

	return &Loader{batchSize: batchSize, inputs: inputs, labels: labels}
}

// Next returns the next batch, or false once the epoch is exhausted.
// The final batch may be shorter than the configured batch size.
func (l *Loader) Next() (Batch, bool) {
	if l.pos >= len(l.inputs) {
		return Batch{}, false
	}
	end := l.pos + l.batchSize
	if end > len(l.inputs) {
		end = len(l.inputs)
	}
	b := Batch{Inputs: l.inputs[l.pos:end], Labels: l.labels[l.pos:end]}
	l.pos = end
	return b, true
}

// Reset rewinds the loader so the next epoch sees the same batches
func (l *Loader) Reset() {
	l.pos = 0
}

// Len returns the number of samples in the dataset
func (l *Loader) Len() int {
	return len(l.inputs)
}

// Batches returns how many batches one epoch serves
func (l *Loader) Batches() int {
	return (len(l.inputs) + l.batchSize - 1) / l.batchSize
}
