// Package classifier implements the CNN-LSTM emotion classifier, its
// training loop and the preprocessing objects persisted alongside it.
package classifier

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/internal/blas"
)

// Architecture describes the CNN-LSTM stack.
type Architecture struct {
	ConvFilters []int   `mapstructure:"conv_filters"` // one Conv1D+BN+MaxPool block per entry
	KernelSize  int     `mapstructure:"kernel_size"`  // Conv1D kernel width
	PoolSize    int     `mapstructure:"pool_size"`    // MaxPool1D window
	LSTMUnits   []int   `mapstructure:"lstm_units"`   // stacked LSTMs; all but the last return sequences
	DenseUnits  int     `mapstructure:"dense_units"`  // hidden dense layer width (0 = none)
	Dropout     float64 `mapstructure:"dropout"`      // rate after each LSTM and the hidden dense layer
	L2          float64 `mapstructure:"l2"`           // kernel penalty on conv and hidden dense layers
}

// DefaultArchitecture is Conv(64,128,256) -> LSTM(128,64) -> Dense(64).
func DefaultArchitecture() Architecture {
	return Architecture{
		ConvFilters: []int{64, 128, 256},
		KernelSize:  3,
		PoolSize:    2,
		LSTMUnits:   []int{128, 64},
		DenseUnits:  64,
		Dropout:     0.5,
		L2:          0.01,
	}
}

// Network is a sequential classifier over a scalar sequence of length
// InputLen. The final layer produces NumClasses logits; softmax is applied
// by Predict and by the loss.
type Network struct {
	InputLen   int
	NumClasses int
	layers     []layer
}

// NewNetwork builds and initialises a network. seed makes the weight
// initialisation reproducible.
func NewNetwork(inputLen, numClasses int, arch Architecture, seed int64) (*Network, error) {
	if numClasses < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %d", numClasses)
	}
	if len(arch.LSTMUnits) == 0 {
		return nil, errors.New("architecture needs at least one LSTM layer")
	}
	rng := rand.New(rand.NewSource(seed))
	n := &Network{InputLen: inputLen, NumClasses: numClasses}

	t, c := inputLen, 1
	for _, f := range arch.ConvFilters {
		conv := newConv1D(rng, c, f, arch.KernelSize, arch.L2)
		n.layers = append(n.layers, conv, newBatchNorm(f), &maxPool1D{Pool: arch.PoolSize})
		t, c = (t-arch.KernelSize+1)/arch.PoolSize, f
		if t < 1 {
			return nil, errors.Errorf("input length %d is too short for %d conv blocks", inputLen, len(arch.ConvFilters))
		}
	}
	for i, units := range arch.LSTMUnits {
		last := i == len(arch.LSTMUnits)-1
		n.layers = append(n.layers, newLSTM(rng, c, units, !last))
		if arch.Dropout > 0 {
			n.layers = append(n.layers, &dropout{Rate: arch.Dropout})
		}
		c = units
	}
	if arch.DenseUnits > 0 {
		n.layers = append(n.layers, newDense(rng, c, arch.DenseUnits, true, arch.L2), newBatchNorm(arch.DenseUnits))
		if arch.Dropout > 0 {
			n.layers = append(n.layers, &dropout{Rate: arch.Dropout})
		}
		c = arch.DenseUnits
	}
	n.layers = append(n.layers, newDense(rng, c, numClasses, false, 0))
	return n, nil
}

// Params returns every trainable parameter in layer order.
func (n *Network) Params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// NumParams returns the number of trainable scalars.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.Params() {
		total += len(p.W)
	}
	return total
}

// Summary lists the layer kinds and output shapes.
func (n *Network) Summary() []string {
	t, c := n.InputLen, 1
	out := make([]string, 0, len(n.layers))
	for _, l := range n.layers {
		t, c = l.outShape(t, c)
		out = append(out, fmt.Sprintf("%s -> (%d, %d)", l.kind(), t, c))
	}
	return out
}

// batchInput packs rows into a [B][InputLen][1] tensor.
func (n *Network) batchInput(x [][]float64, idx []int) (*tensor, error) {
	t := newTensor(len(idx), n.InputLen, 1)
	for i, k := range idx {
		if len(x[k]) != n.InputLen {
			return nil, errors.Errorf("sample %d has %d features, want %d", k, len(x[k]), n.InputLen)
		}
		copy(t.sample(i), x[k])
	}
	return t, nil
}

// forward runs every layer, recording caches in p.
func (n *Network) forward(x *tensor, p *pass) *tensor {
	p.caches = make([]any, len(n.layers))
	for i, l := range n.layers {
		x, p.caches[i] = l.forward(x, p)
	}
	return x
}

// backward propagates the gradient of the loss with respect to the logits.
func (n *Network) backward(dlogits *tensor, p *pass) {
	dy := dlogits
	for i := len(n.layers) - 1; i >= 0; i-- {
		dy = n.layers[i].backward(dy, p.caches[i], p)
	}
}

// Predict returns class probabilities for each row of x.
func (n *Network) Predict(x [][]float64) ([][]float64, error) {
	const chunk = 64
	out := make([][]float64, len(x))
	for start := 0; start < len(x); start += chunk {
		end := start + chunk
		if end > len(x) {
			end = len(x)
		}
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		in, err := n.batchInput(x, idx)
		if err != nil {
			return nil, err
		}
		logits := n.forward(in, &pass{workers: defaultWorkers()})
		for i := range idx {
			probs := make([]float64, n.NumClasses)
			softmaxInto(logits.Data[i*n.NumClasses:(i+1)*n.NumClasses], probs)
			out[start+i] = probs
		}
	}
	return out, nil
}

// PredictOne returns class probabilities for a single feature vector.
func (n *Network) PredictOne(x []float64) ([]float64, error) {
	probs, err := n.Predict([][]float64{x})
	if err != nil {
		return nil, err
	}
	return probs[0], nil
}

func softmaxInto(z, dst []float64) {
	maxVal := math.Inf(-1)
	for _, v := range z {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for j, v := range z {
		dst[j] = math.Exp(v - maxVal)
		sum += dst[j]
	}
	for j := range dst {
		dst[j] /= sum
	}
}

// Argmax returns the index of the largest value.
func Argmax(v []float64) int {
	best := 0
	for j := 1; j < len(v); j++ {
		if v[j] > v[best] {
			best = j
		}
	}
	return best
}

// penalty returns the L2 regularisation term sum(l2 * W^2).
func (n *Network) penalty() float64 {
	total := 0.0
	for _, p := range n.Params() {
		if p.L2 == 0 {
			continue
		}
		total += p.L2 * blas.Ddot(p.W, p.W)
	}
	return total
}

// crossEntropy computes the mean categorical cross-entropy of logits
// against targets, and when dlogits is non-nil writes d(loss)/d(logits).
func crossEntropy(logits *tensor, targets []int, dlogits *tensor) (loss float64, correct int) {
	K := logits.C * logits.T
	probs := make([]float64, K)
	invB := 1.0 / float64(logits.B)
	for r := 0; r < logits.B; r++ {
		z := logits.Data[r*K : (r+1)*K]
		softmaxInto(z, probs)
		t := targets[r]
		p := probs[t]
		if p < 1e-30 {
			p = 1e-30
		}
		loss -= math.Log(p)
		if Argmax(probs) == t {
			correct++
		}
		if dlogits != nil {
			d := dlogits.Data[r*K : (r+1)*K]
			for j := range d {
				d[j] = probs[j] * invB
			}
			d[t] -= invB
		}
	}
	return loss * invB, correct
}

// zeroGrads clears every accumulated gradient.
func (n *Network) zeroGrads() {
	for _, p := range n.Params() {
		clearSlice(p.G)
	}
}

// step runs forward and backward on one batch in training mode. Parameter
// gradients (including the L2 term) are left in Param.G. The returned loss
// includes the penalty.
func (n *Network) step(x *tensor, targets []int, p *pass) (float64, int) {
	n.zeroGrads()
	logits := n.forward(x, p)
	dlogits := newTensor(logits.B, logits.T, logits.C)
	loss, correct := crossEntropy(logits, targets, dlogits)
	n.backward(dlogits, p)
	for _, prm := range n.Params() {
		if prm.L2 == 0 {
			continue
		}
		blas.Daxpy(2*prm.L2, prm.W, prm.G)
	}
	return loss + n.penalty(), correct
}

// snapshot copies every weight and batch-norm moving statistic.
func (n *Network) snapshot() [][]float64 {
	var s [][]float64
	for _, l := range n.layers {
		for _, p := range l.params() {
			s = append(s, append([]float64(nil), p.W...))
		}
		if bn, ok := l.(*batchNorm); ok {
			s = append(s, append([]float64(nil), bn.RunningMean...), append([]float64(nil), bn.RunningVar...))
		}
	}
	return s
}

// restore is the inverse of snapshot.
func (n *Network) restore(s [][]float64) {
	k := 0
	for _, l := range n.layers {
		for _, p := range l.params() {
			copy(p.W, s[k])
			k++
		}
		if bn, ok := l.(*batchNorm); ok {
			copy(bn.RunningMean, s[k])
			copy(bn.RunningVar, s[k+1])
			k += 2
		}
	}
}
