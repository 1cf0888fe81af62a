package workload

import "math/rand"

// Block is one contiguous parameter tensor inside the flat parameter
// vector: a weight row or the bias vector.
type Block struct {
	Offset int
	Len    int
}

// Model is a single linear layer over the synthetic task, stored as a
// flat parameter vector of outDim weight rows followed by the biases.
// Flat storage keeps the collective exchanges a plain []float64.
type Model struct {
	inDim  int
	outDim int
	params []float64
	grads  []float64
}

// NewModel initializes the parameters from the seed. Every rank must
// construct the model with the same seed so the replicas start out
// identical.
func NewModel(inDim, outDim int, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	n := outDim*inDim + outDim
	params := make([]float64, n)
	for i := range params {
		params[i] = rng.Float64() - 0.5
	}
	return &Model{
		inDim:  inDim,
		outDim: outDim,
		params: params,
		grads:  make([]float64, n),
	}
}

// Step computes the mean squared error over the batch and accumulates
// the gradients, replacing whatever the previous step left behind.
func (m *Model) Step(b Batch) float64 {
	for i := range m.grads {
		m.grads[i] = 0
	}
	n := len(b.Inputs)
	if n == 0 {
		return 0
	}
	norm := float64(n * m.outDim)
	cost := 0.0
	biasOff := m.outDim * m.inDim
	for s := 0; s < n; s++ {
		x := b.Inputs[s]
		y := b.Labels[s]
		for o := 0; o < m.outDim; o++ {
			pred := m.params[biasOff+o]
			row := o * m.inDim
			for i, xi := range x {
				pred += m.params[row+i] * xi
			}
			diff := pred - y[o]
			cost += diff * diff
			scale := 2 * diff / norm
			for i, xi := range x {
				m.grads[row+i] += scale * xi
			}
			m.grads[biasOff+o] += scale
		}
	}
	return cost / norm
}

// Params returns the live parameter vector
func (m *Model) Params() []float64 {
	return m.params
}

// Grads returns the gradient vector accumulated by the last Step
func (m *Model) Grads() []float64 {
	return m.grads
}

// SetParams overwrites the parameter vector
func (m *Model) SetParams(p []float64) {
	copy(m.params, p)
}

// ParamCount returns the total number of scalar parameters
func (m *Model) ParamCount() int {
	return len(m.params)
}

// Blocks returns the tensor layout of the parameter vector: one block
// per weight row plus one for the biases. Sharding partitions whole
// blocks, never splits one.
func (m *Model) Blocks() []Block {
	blocks := make([]Block, 0, m.outDim+1)
	for o := 0; o < m.outDim; o++ {
		blocks = append(blocks, Block{Offset: o * m.inDim, Len: m.inDim})
	}
	blocks = append(blocks, Block{Offset: m.outDim * m.inDim, Len: m.outDim})
	return blocks
}
