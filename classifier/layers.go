package classifier

import (
	"math"
	"math/rand"

	"github.com/ieee0824/emotion-go/internal/blas"
	"gonum.org/v1/gonum/mat"
)

// layer is one stage of a sequential network. forward returns its output
// and whatever backward needs; backward receives the gradient of the loss
// with respect to the output, accumulates parameter gradients into
// Param.G and returns the gradient with respect to the input.
type layer interface {
	kind() string
	outShape(t, c int) (int, int)
	forward(x *tensor, p *pass) (*tensor, any)
	backward(dy *tensor, cache any, p *pass) *tensor
	params() []*Param
}

const (
	kindConv1D    = "conv1d"
	kindBatchNorm = "batchnorm"
	kindMaxPool   = "maxpool1d"
	kindLSTM      = "lstm"
	kindDropout   = "dropout"
	kindDense     = "dense"
)

// glorotUniform fills w from U(-l, l) with l = sqrt(6/(fanIn+fanOut)).
func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

// orthogonalInit fills the row-major rows x cols matrix w with orthonormal
// rows (rows <= cols) or columns (rows > cols).
func orthogonalInit(rng *rand.Rand, w []float64, rows, cols int) {
	n, m := rows, cols
	if n < m {
		n, m = m, n
	}
	a := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	// q[:, :m] scaled by sign(diag(r)) gives a uniformly distributed basis
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := q.At(i, j)
			if r.At(j, j) < 0 {
				v = -v
			}
			if rows >= cols {
				w[i*cols+j] = v
			} else {
				w[j*cols+i] = v
			}
		}
	}
}

// --- Conv1D ---

// conv1D is a valid-padding 1-D convolution with stride 1 followed by ReLU.
// W is [Out][Kernel*In] row-major so one output frame is a dot product with
// Kernel consecutive input frames.
type conv1D struct {
	In, Out, Kernel int
	W, B            *Param
	gW, gB          shards
}

type convCache struct {
	x, y *tensor
}

func newConv1D(rng *rand.Rand, in, out, kernel int, l2 float64) *conv1D {
	c := &conv1D{
		In: in, Out: out, Kernel: kernel,
		W: newParam("conv1d/kernel", out*kernel*in, l2),
		B: newParam("conv1d/bias", out, 0),
	}
	glorotUniform(rng, c.W.W, kernel*in, kernel*out)
	return c
}

func (c *conv1D) kind() string                 { return kindConv1D }
func (c *conv1D) params() []*Param             { return []*Param{c.W, c.B} }
func (c *conv1D) outShape(t, _ int) (int, int) { return t - c.Kernel + 1, c.Out }

// im2col copies the Kernel-frame windows of one sample into col.
func (c *conv1D) im2col(xs, col []float64, tOut int) {
	kc := c.Kernel * c.In
	for t := 0; t < tOut; t++ {
		copy(col[t*kc:(t+1)*kc], xs[t*c.In:(t+c.Kernel)*c.In])
	}
}

func (c *conv1D) forward(x *tensor, p *pass) (*tensor, any) {
	tOut := x.T - c.Kernel + 1
	kc := c.Kernel * c.In
	y := newTensor(x.B, tOut, c.Out)
	cols := make([][]float64, p.workers)
	parallelFor(x.B, p.workers, func(w, i int) {
		if cols[w] == nil {
			cols[w] = make([]float64, tOut*kc)
		}
		col := cols[w]
		c.im2col(x.sample(i), col, tOut)
		ys := y.sample(i)
		blas.Dgemm(false, true, tOut, c.Out, kc, 1.0, col, kc, c.W.W, kc, 0.0, ys, c.Out)
		for t := 0; t < tOut; t++ {
			row := ys[t*c.Out : (t+1)*c.Out]
			for o := range row {
				v := row[o] + c.B.W[o]
				if v < 0 {
					v = 0
				}
				row[o] = v
			}
		}
	})
	return y, &convCache{x: x, y: y}
}

func (c *conv1D) backward(dy *tensor, cache any, p *pass) *tensor {
	cc := cache.(*convCache)
	x := cc.x
	tOut := dy.T
	kc := c.Kernel * c.In
	dx := newTensor(x.B, x.T, c.In)

	workers := p.workers
	if workers > x.B {
		workers = x.B
	}
	gW := c.gW.reset(workers, len(c.W.W))
	gB := c.gB.reset(workers, len(c.B.W))
	type buffers struct{ col, dcol, dz []float64 }
	bufs := make([]buffers, workers)

	parallelFor(x.B, workers, func(w, i int) {
		b := &bufs[w]
		if b.col == nil {
			b.col = make([]float64, tOut*kc)
			b.dcol = make([]float64, tOut*kc)
			b.dz = make([]float64, tOut*c.Out)
		}
		c.im2col(x.sample(i), b.col, tOut)

		ys, dys := cc.y.sample(i), dy.sample(i)
		for j, v := range dys {
			if ys[j] > 0 {
				b.dz[j] = v
			} else {
				b.dz[j] = 0
			}
			gB[w][j%c.Out] += b.dz[j]
		}
		blas.Dgemm(true, false, c.Out, kc, tOut, 1.0, b.dz, c.Out, b.col, kc, 1.0, gW[w], kc)
		blas.Dgemm(false, false, tOut, kc, c.Out, 1.0, b.dz, c.Out, c.W.W, kc, 0.0, b.dcol, kc)

		dxs := dx.sample(i)
		for t := 0; t < tOut; t++ {
			addSlice(dxs[t*c.In:(t+c.Kernel)*c.In], b.dcol[t*kc:(t+1)*kc])
		}
	})
	c.gW.reduceInto(c.W.G, workers)
	c.gB.reduceInto(c.B.G, workers)
	return dx
}

// --- BatchNorm ---

// batchNorm normalises each channel over the batch and time axes.
type batchNorm struct {
	C           int
	Gamma, Beta *Param
	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64
}

type bnCache struct {
	xhat   []float64
	invStd []float64
}

// Keras defaults.
const (
	batchNormMomentum = 0.99
	batchNormEps      = 1e-3
)

func newBatchNorm(c int) *batchNorm {
	bn := &batchNorm{
		C:           c,
		Gamma:       newParam("batchnorm/gamma", c, 0),
		Beta:        newParam("batchnorm/beta", c, 0),
		RunningMean: make([]float64, c),
		RunningVar:  make([]float64, c),
		Momentum:    batchNormMomentum,
		Eps:         batchNormEps,
	}
	for j := 0; j < c; j++ {
		bn.Gamma.W[j] = 1
		bn.RunningVar[j] = 1
	}
	return bn
}

func (bn *batchNorm) kind() string                 { return kindBatchNorm }
func (bn *batchNorm) params() []*Param             { return []*Param{bn.Gamma, bn.Beta} }
func (bn *batchNorm) outShape(t, c int) (int, int) { return t, c }

func (bn *batchNorm) forward(x *tensor, p *pass) (*tensor, any) {
	C := bn.C
	rows := x.B * x.T
	y := newTensor(x.B, x.T, C)

	if !p.train {
		for j := 0; j < C; j++ {
			invStd := 1.0 / math.Sqrt(bn.RunningVar[j]+bn.Eps)
			scale := bn.Gamma.W[j] * invStd
			shift := bn.Beta.W[j] - scale*bn.RunningMean[j]
			for r := 0; r < rows; r++ {
				y.Data[r*C+j] = x.Data[r*C+j]*scale + shift
			}
		}
		return y, nil
	}

	n := float64(rows)
	mean := make([]float64, C)
	variance := make([]float64, C)
	for r := 0; r < rows; r++ {
		addSlice(mean, x.Data[r*C:(r+1)*C])
	}
	for j := range mean {
		mean[j] /= n
	}
	for r := 0; r < rows; r++ {
		for j := 0; j < C; j++ {
			d := x.Data[r*C+j] - mean[j]
			variance[j] += d * d
		}
	}
	cache := &bnCache{xhat: make([]float64, rows*C), invStd: make([]float64, C)}
	for j := 0; j < C; j++ {
		variance[j] /= n
		cache.invStd[j] = 1.0 / math.Sqrt(variance[j]+bn.Eps)
	}
	for r := 0; r < rows; r++ {
		for j := 0; j < C; j++ {
			idx := r*C + j
			xh := (x.Data[idx] - mean[j]) * cache.invStd[j]
			cache.xhat[idx] = xh
			y.Data[idx] = bn.Gamma.W[j]*xh + bn.Beta.W[j]
		}
	}

	// moving statistics track the unbiased batch variance
	unbias := 1.0
	if rows > 1 {
		unbias = n / (n - 1)
	}
	for j := 0; j < C; j++ {
		bn.RunningMean[j] = bn.Momentum*bn.RunningMean[j] + (1-bn.Momentum)*mean[j]
		bn.RunningVar[j] = bn.Momentum*bn.RunningVar[j] + (1-bn.Momentum)*variance[j]*unbias
	}
	return y, cache
}

func (bn *batchNorm) backward(dy *tensor, cache any, _ *pass) *tensor {
	bc := cache.(*bnCache)
	C := bn.C
	rows := dy.B * dy.T
	n := float64(rows)
	dx := newTensor(dy.B, dy.T, C)

	sumDxhat := make([]float64, C)
	sumDxhatXhat := make([]float64, C)
	for r := 0; r < rows; r++ {
		for j := 0; j < C; j++ {
			idx := r*C + j
			g := dy.Data[idx]
			bn.Gamma.G[j] += g * bc.xhat[idx]
			bn.Beta.G[j] += g
			dxh := g * bn.Gamma.W[j]
			sumDxhat[j] += dxh
			sumDxhatXhat[j] += dxh * bc.xhat[idx]
		}
	}
	for r := 0; r < rows; r++ {
		for j := 0; j < C; j++ {
			idx := r*C + j
			dxh := dy.Data[idx] * bn.Gamma.W[j]
			dx.Data[idx] = bc.invStd[j] / n * (n*dxh - sumDxhat[j] - bc.xhat[idx]*sumDxhatXhat[j])
		}
	}
	return dx
}

// --- MaxPool1D ---

// maxPool1D takes the maximum over non-overlapping windows of Pool frames;
// a trailing partial window is dropped.
type maxPool1D struct {
	Pool int
}

func (m *maxPool1D) kind() string                 { return kindMaxPool }
func (m *maxPool1D) params() []*Param             { return nil }
func (m *maxPool1D) outShape(t, c int) (int, int) { return t / m.Pool, c }

type poolCache struct {
	inT    int
	argmax []int32 // input frame of each output element
}

func (m *maxPool1D) forward(x *tensor, _ *pass) (*tensor, any) {
	tOut := x.T / m.Pool
	C := x.C
	y := newTensor(x.B, tOut, C)
	cache := &poolCache{inT: x.T, argmax: make([]int32, len(y.Data))}
	for i := 0; i < x.B; i++ {
		xs, ys := x.sample(i), y.sample(i)
		off := i * tOut * C
		for t := 0; t < tOut; t++ {
			for j := 0; j < C; j++ {
				best := t * m.Pool
				for k := 1; k < m.Pool; k++ {
					if xs[(t*m.Pool+k)*C+j] > xs[best*C+j] {
						best = t*m.Pool + k
					}
				}
				ys[t*C+j] = xs[best*C+j]
				cache.argmax[off+t*C+j] = int32(best)
			}
		}
	}
	return y, cache
}

func (m *maxPool1D) backward(dy *tensor, cache any, _ *pass) *tensor {
	pc := cache.(*poolCache)
	C := dy.C
	dx := newTensor(dy.B, pc.inT, C)
	for i := 0; i < dy.B; i++ {
		dys, dxs := dy.sample(i), dx.sample(i)
		off := i * dy.T * C
		for t := 0; t < dy.T; t++ {
			for j := 0; j < C; j++ {
				src := int(pc.argmax[off+t*C+j])
				dxs[src*C+j] += dys[t*C+j]
			}
		}
	}
	return dx
}

// --- LSTM ---

// lstm is a single-direction LSTM with sigmoid gates and tanh cell
// activation. Gate blocks are ordered input, forget, cell, output.
// W is [In][4H], U is [H][4H], B is [4H].
type lstm struct {
	In, Units       int
	ReturnSequences bool
	W, U, B         *Param
}

type lstmCache struct {
	x     *tensor
	h     *tensor     // [B][T][H] hidden states
	gates [][]float64 // per step [B][4H] activated gates
	c     [][]float64 // per step [B][H] cell state
	tanhC [][]float64
}

func newLSTM(rng *rand.Rand, in, units int, returnSequences bool) *lstm {
	g := 4 * units
	l := &lstm{
		In: in, Units: units, ReturnSequences: returnSequences,
		W: newParam("lstm/kernel", in*g, 0),
		U: newParam("lstm/recurrent_kernel", units*g, 0),
		B: newParam("lstm/bias", g, 0),
	}
	glorotUniform(rng, l.W.W, in, g)
	orthogonalInit(rng, l.U.W, units, g)
	for j := units; j < 2*units; j++ {
		l.B.W[j] = 1 // forget gate
	}
	return l
}

func (l *lstm) kind() string     { return kindLSTM }
func (l *lstm) params() []*Param { return []*Param{l.W, l.U, l.B} }
func (l *lstm) outShape(t, _ int) (int, int) {
	if l.ReturnSequences {
		return t, l.Units
	}
	return 1, l.Units
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

func (l *lstm) forward(x *tensor, _ *pass) (*tensor, any) {
	B, T, H := x.B, x.T, l.Units
	G := 4 * H
	cache := &lstmCache{
		x:     x,
		h:     newTensor(B, T, H),
		gates: make([][]float64, T),
		c:     make([][]float64, T),
		tanhC: make([][]float64, T),
	}
	for t := 0; t < T; t++ {
		z := make([]float64, B*G)
		for b := 0; b < B; b++ {
			copy(z[b*G:(b+1)*G], l.B.W)
		}
		blas.Dgemm(false, false, B, G, l.In, 1.0, x.Data[t*l.In:], T*l.In, l.W.W, G, 1.0, z, G)
		if t > 0 {
			blas.Dgemm(false, false, B, G, H, 1.0, cache.h.Data[(t-1)*H:], T*H, l.U.W, G, 1.0, z, G)
		}
		c := make([]float64, B*H)
		tc := make([]float64, B*H)
		for b := 0; b < B; b++ {
			zb := z[b*G : (b+1)*G]
			for j := 0; j < H; j++ {
				ig := sigmoid(zb[j])
				fg := sigmoid(zb[H+j])
				gg := math.Tanh(zb[2*H+j])
				og := sigmoid(zb[3*H+j])
				zb[j], zb[H+j], zb[2*H+j], zb[3*H+j] = ig, fg, gg, og

				cPrev := 0.0
				if t > 0 {
					cPrev = cache.c[t-1][b*H+j]
				}
				cv := fg*cPrev + ig*gg
				c[b*H+j] = cv
				tc[b*H+j] = math.Tanh(cv)
				cache.h.Data[(b*T+t)*H+j] = og * tc[b*H+j]
			}
		}
		cache.gates[t], cache.c[t], cache.tanhC[t] = z, c, tc
	}

	if l.ReturnSequences {
		return cache.h, cache
	}
	y := newTensor(B, 1, H)
	for b := 0; b < B; b++ {
		copy(y.Data[b*H:(b+1)*H], cache.h.Data[(b*T+T-1)*H:(b*T+T)*H])
	}
	return y, cache
}

func (l *lstm) backward(dy *tensor, cache any, _ *pass) *tensor {
	lc := cache.(*lstmCache)
	x := lc.x
	B, T, H := x.B, x.T, l.Units
	G := 4 * H
	dx := newTensor(B, T, l.In)

	dhNext := make([]float64, B*H)
	dcNext := make([]float64, B*H)
	dz := make([]float64, B*G)
	for t := T - 1; t >= 0; t-- {
		for b := 0; b < B; b++ {
			gb := lc.gates[t][b*G : (b+1)*G]
			for j := 0; j < H; j++ {
				dh := dhNext[b*H+j]
				if l.ReturnSequences {
					dh += dy.Data[(b*T+t)*H+j]
				} else if t == T-1 {
					dh += dy.Data[b*H+j]
				}
				ig, fg, gg, og := gb[j], gb[H+j], gb[2*H+j], gb[3*H+j]
				tc := lc.tanhC[t][b*H+j]
				cPrev := 0.0
				if t > 0 {
					cPrev = lc.c[t-1][b*H+j]
				}
				do := dh * tc
				dc := dh*og*(1-tc*tc) + dcNext[b*H+j]
				dcNext[b*H+j] = dc * fg

				dzb := dz[b*G : (b+1)*G]
				dzb[j] = dc * gg * ig * (1 - ig)
				dzb[H+j] = dc * cPrev * fg * (1 - fg)
				dzb[2*H+j] = dc * ig * (1 - gg*gg)
				dzb[3*H+j] = do * og * (1 - og)
			}
			addSlice(l.B.G, dz[b*G:(b+1)*G])
		}
		blas.Dgemm(true, false, l.In, G, B, 1.0, x.Data[t*l.In:], T*l.In, dz, G, 1.0, l.W.G, G)
		if t > 0 {
			blas.Dgemm(true, false, H, G, B, 1.0, lc.h.Data[(t-1)*H:], T*H, dz, G, 1.0, l.U.G, G)
		}
		blas.Dgemm(false, true, B, l.In, G, 1.0, dz, G, l.W.W, G, 0.0, dx.Data[t*l.In:], T*l.In)
		blas.Dgemm(false, true, B, H, G, 1.0, dz, G, l.U.W, G, 0.0, dhNext, H)
	}
	return dx
}

// --- Dropout ---

// dropout zeroes a Rate fraction of activations during training and scales
// the rest by 1/(1-Rate). It is the identity at inference.
type dropout struct {
	Rate float64
}

func (d *dropout) kind() string                 { return kindDropout }
func (d *dropout) params() []*Param             { return nil }
func (d *dropout) outShape(t, c int) (int, int) { return t, c }

func (d *dropout) forward(x *tensor, p *pass) (*tensor, any) {
	if !p.train || d.Rate <= 0 || p.rng == nil {
		return x, nil
	}
	y := newTensor(x.B, x.T, x.C)
	mask := make([]float64, len(x.Data))
	scale := 1.0 / (1.0 - d.Rate)
	for i, v := range x.Data {
		if p.rng.Float64() >= d.Rate {
			mask[i] = scale
			y.Data[i] = v * scale
		}
	}
	return y, mask
}

func (d *dropout) backward(dy *tensor, cache any, _ *pass) *tensor {
	mask, ok := cache.([]float64)
	if !ok {
		return dy
	}
	dx := newTensor(dy.B, dy.T, dy.C)
	for i, g := range dy.Data {
		dx.Data[i] = g * mask[i]
	}
	return dx
}

// --- Dense ---

// dense is a fully-connected layer over the flattened [T*C] input.
// W is [Out][In] row-major.
type dense struct {
	In, Out int
	ReLU    bool
	W, B    *Param
}

type denseCache struct {
	x, y *tensor
}

func newDense(rng *rand.Rand, in, out int, relu bool, l2 float64) *dense {
	d := &dense{
		In: in, Out: out, ReLU: relu,
		W: newParam("dense/kernel", out*in, l2),
		B: newParam("dense/bias", out, 0),
	}
	glorotUniform(rng, d.W.W, in, out)
	return d
}

func (d *dense) kind() string                 { return kindDense }
func (d *dense) params() []*Param             { return []*Param{d.W, d.B} }
func (d *dense) outShape(_, _ int) (int, int) { return 1, d.Out }

func (d *dense) forward(x *tensor, _ *pass) (*tensor, any) {
	y := newTensor(x.B, 1, d.Out)
	blas.Dgemm(false, true, x.B, d.Out, d.In, 1.0, x.Data, d.In, d.W.W, d.In, 0.0, y.Data, d.Out)
	for r := 0; r < x.B; r++ {
		row := y.Data[r*d.Out : (r+1)*d.Out]
		for j := range row {
			v := row[j] + d.B.W[j]
			if d.ReLU && v < 0 {
				v = 0
			}
			row[j] = v
		}
	}
	return y, &denseCache{x: x, y: y}
}

func (d *dense) backward(dy *tensor, cache any, _ *pass) *tensor {
	dc := cache.(*denseCache)
	dz := dy.Data
	if d.ReLU {
		dz = make([]float64, len(dy.Data))
		for i, g := range dy.Data {
			if dc.y.Data[i] > 0 {
				dz[i] = g
			}
		}
	}
	for r := 0; r < dy.B; r++ {
		addSlice(d.B.G, dz[r*d.Out:(r+1)*d.Out])
	}
	blas.Dgemm(true, false, d.Out, d.In, dy.B, 1.0, dz, d.Out, dc.x.Data, d.In, 1.0, d.W.G, d.In)
	dx := newTensor(dc.x.B, dc.x.T, dc.x.C)
	blas.Dgemm(false, false, dy.B, d.In, d.Out, 1.0, dz, d.Out, d.W.W, d.In, 0.0, dx.Data, d.In)
	return dx
}
