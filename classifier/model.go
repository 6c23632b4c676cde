package classifier

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
)

// modelVersion is bumped whenever serializedNetwork changes shape.
const modelVersion = 1

type serializedLayer struct {
	Kind            string
	In, Out, Kernel int
	Pool            int
	ReLU            bool
	ReturnSequences bool
	Rate            float64
	L2              float64
	Params          [][]float64
	RunningMean     []float64
	RunningVar      []float64
	Momentum, Eps   float64
}

type serializedNetwork struct {
	Version    int
	InputLen   int
	NumClasses int
	Layers     []serializedLayer
}

func paramWeights(ps []*Param) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = p.W
	}
	return out
}

// Save serializes the network with gob encoding.
func (n *Network) Save(w io.Writer) error {
	sn := serializedNetwork{
		Version:    modelVersion,
		InputLen:   n.InputLen,
		NumClasses: n.NumClasses,
		Layers:     make([]serializedLayer, len(n.layers)),
	}
	for i, l := range n.layers {
		sl := serializedLayer{Kind: l.kind(), Params: paramWeights(l.params())}
		switch v := l.(type) {
		case *conv1D:
			sl.In, sl.Out, sl.Kernel, sl.L2 = v.In, v.Out, v.Kernel, v.W.L2
		case *batchNorm:
			sl.In = v.C
			sl.RunningMean, sl.RunningVar = v.RunningMean, v.RunningVar
			sl.Momentum, sl.Eps = v.Momentum, v.Eps
		case *maxPool1D:
			sl.Pool = v.Pool
		case *lstm:
			sl.In, sl.Out, sl.ReturnSequences = v.In, v.Units, v.ReturnSequences
		case *dropout:
			sl.Rate = v.Rate
		case *dense:
			sl.In, sl.Out, sl.ReLU, sl.L2 = v.In, v.Out, v.ReLU, v.W.L2
		}
		sn.Layers[i] = sl
	}
	return gob.NewEncoder(w).Encode(sn)
}

// Load deserializes a network written by Save.
func Load(r io.Reader) (*Network, error) {
	var sn serializedNetwork
	if err := gob.NewDecoder(r).Decode(&sn); err != nil {
		return nil, errors.Wrap(err, "decoding model")
	}
	if sn.Version != modelVersion {
		return nil, errors.Errorf("unsupported model version %d", sn.Version)
	}
	n := &Network{InputLen: sn.InputLen, NumClasses: sn.NumClasses}
	for i, sl := range sn.Layers {
		l, err := layerFromSerialized(sl)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s)", i, sl.Kind)
		}
		n.layers = append(n.layers, l)
	}
	if len(n.layers) == 0 {
		return nil, errors.New("model has no layers")
	}
	if err := n.checkShapes(); err != nil {
		return nil, err
	}
	return n, nil
}

// checkShapes follows the (time, channel) shape from the input through
// every layer and reports the first layer that cannot accept what its
// predecessor produces.
func (n *Network) checkShapes() error {
	if n.InputLen < 1 {
		return errors.Errorf("invalid input length %d", n.InputLen)
	}
	t, c := n.InputLen, 1
	for i, l := range n.layers {
		in := c
		switch v := l.(type) {
		case *conv1D:
			in = v.In
			if t < v.Kernel {
				return errors.Errorf("layer %d (%s): %d frames, kernel %d", i, l.kind(), t, v.Kernel)
			}
		case *batchNorm:
			in = v.C
		case *lstm:
			in = v.In
		case *dense:
			if t*c != v.In {
				return errors.Errorf("layer %d (%s) expects %d inputs, got %d", i, l.kind(), v.In, t*c)
			}
		}
		if in != c {
			return errors.Errorf("layer %d (%s) expects %d channels, got %d", i, l.kind(), in, c)
		}
		t, c = l.outShape(t, c)
		if t < 1 {
			return errors.Errorf("layer %d (%s) leaves no frames", i, l.kind())
		}
	}
	if t != 1 || c != n.NumClasses {
		return errors.Errorf("model outputs (%d, %d), want (1, %d)", t, c, n.NumClasses)
	}
	return nil
}

// LoadFile reads a network from path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func restoreParams(ps []*Param, weights [][]float64) error {
	if len(ps) != len(weights) {
		return errors.Errorf("have %d parameter arrays, want %d", len(weights), len(ps))
	}
	for i, p := range ps {
		if len(weights[i]) != len(p.W) {
			return errors.Errorf("%s has %d values, want %d", p.Name, len(weights[i]), len(p.W))
		}
		copy(p.W, weights[i])
	}
	return nil
}

func layerFromSerialized(sl serializedLayer) (layer, error) {
	var l layer
	switch sl.Kind {
	case kindConv1D:
		l = &conv1D{
			In: sl.In, Out: sl.Out, Kernel: sl.Kernel,
			W: newParam("conv1d/kernel", sl.Out*sl.Kernel*sl.In, sl.L2),
			B: newParam("conv1d/bias", sl.Out, 0),
		}
	case kindBatchNorm:
		bn := newBatchNorm(sl.In)
		if len(sl.RunningMean) != sl.In || len(sl.RunningVar) != sl.In {
			return nil, errors.New("moving statistics have the wrong size")
		}
		copy(bn.RunningMean, sl.RunningMean)
		copy(bn.RunningVar, sl.RunningVar)
		bn.Momentum, bn.Eps = sl.Momentum, sl.Eps
		l = bn
	case kindMaxPool:
		if sl.Pool < 1 {
			return nil, errors.Errorf("invalid pool size %d", sl.Pool)
		}
		l = &maxPool1D{Pool: sl.Pool}
	case kindLSTM:
		g := 4 * sl.Out
		l = &lstm{
			In: sl.In, Units: sl.Out, ReturnSequences: sl.ReturnSequences,
			W: newParam("lstm/kernel", sl.In*g, 0),
			U: newParam("lstm/recurrent_kernel", sl.Out*g, 0),
			B: newParam("lstm/bias", g, 0),
		}
	case kindDropout:
		l = &dropout{Rate: sl.Rate}
	case kindDense:
		l = &dense{
			In: sl.In, Out: sl.Out, ReLU: sl.ReLU,
			W: newParam("dense/kernel", sl.Out*sl.In, sl.L2),
			B: newParam("dense/bias", sl.Out, 0),
		}
	default:
		return nil, errors.Errorf("unknown layer kind %q", sl.Kind)
	}
	if err := restoreParams(l.params(), sl.Params); err != nil {
		return nil, err
	}
	return l, nil
}
