package classifier

import (
	"math/rand"
	"runtime"
	"sync"
)

// tensor is a row-major [B][T][C] batch. Dense activations use T=1.
type tensor struct {
	Data    []float64
	B, T, C int
}

func newTensor(b, t, c int) *tensor {
	return &tensor{Data: make([]float64, b*t*c), B: b, T: t, C: c}
}

// sample returns the [T][C] block of batch row i.
func (x *tensor) sample(i int) []float64 {
	n := x.T * x.C
	return x.Data[i*n : (i+1)*n]
}

// Param is one trainable array with its accumulated gradient.
type Param struct {
	Name string
	W    []float64
	G    []float64
	L2   float64 // L2 penalty coefficient on W (0 = none)
}

func newParam(name string, n int, l2 float64) *Param {
	return &Param{Name: name, W: make([]float64, n), G: make([]float64, n), L2: l2}
}

// pass carries per-call state through forward and backward. Layers keep no
// per-call state themselves, so inference passes may run concurrently.
type pass struct {
	train   bool
	rng     *rand.Rand
	workers int
	caches  []any
}

func defaultWorkers() int {
	w := runtime.NumCPU()
	if w > 8 {
		w = 8
	}
	if w < 1 {
		w = 1
	}
	return w
}

// parallelFor runs fn(w, i) for every i in [0, n) on up to workers
// goroutines. w identifies the goroutine so callers can index per-worker
// buffers.
func parallelFor(n, workers int, fn func(w, i int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(0, i)
		}
		return
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += workers {
				fn(w, i)
			}
		}(w)
	}
	wg.Wait()
}

// shards holds per-worker gradient buffers that are summed after a
// parallel backward loop.
type shards struct {
	buf [][]float64
}

// reset returns workers zeroed buffers of length n.
func (s *shards) reset(workers, n int) [][]float64 {
	if len(s.buf) < workers || (len(s.buf) > 0 && len(s.buf[0]) != n) {
		s.buf = make([][]float64, workers)
		for w := range s.buf {
			s.buf[w] = make([]float64, n)
		}
		return s.buf[:workers]
	}
	for w := 0; w < workers; w++ {
		clearSlice(s.buf[w])
	}
	return s.buf[:workers]
}

// reduceInto adds every shard into dst.
func (s *shards) reduceInto(dst []float64, workers int) {
	for w := 0; w < workers && w < len(s.buf); w++ {
		addSlice(dst, s.buf[w])
	}
}

func clearSlice(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

func addSlice(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
