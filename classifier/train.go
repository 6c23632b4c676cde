package classifier

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TrainConfig holds training hyperparameters.
type TrainConfig struct {
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `mapstructure:"beta1" yaml:"beta1"`     // Adam beta1
	Beta2        float64 `mapstructure:"beta2" yaml:"beta2"`     // Adam beta2
	Epsilon      float64 `mapstructure:"epsilon" yaml:"epsilon"` // Adam epsilon
	BatchSize    int     `mapstructure:"batch_size" yaml:"batch_size"`
	Epochs       int     `mapstructure:"epochs" yaml:"epochs"`

	// Early stopping on validation loss (0 = disabled).
	EarlyStopPatience int  `mapstructure:"early_stop_patience" yaml:"early_stop_patience"`
	RestoreBest       bool `mapstructure:"restore_best" yaml:"restore_best"`

	// Learning-rate reduction when validation loss plateaus (0 = disabled).
	ReduceLRPatience int     `mapstructure:"reduce_lr_patience" yaml:"reduce_lr_patience"`
	ReduceLRFactor   float64 `mapstructure:"reduce_lr_factor" yaml:"reduce_lr_factor"`
	MinLR            float64 `mapstructure:"min_lr" yaml:"min_lr"`

	Seed    int64 `mapstructure:"seed" yaml:"seed"`
	Workers int   `mapstructure:"workers" yaml:"workers"` // 0 = NumCPU capped at 8
}

// DefaultTrainConfig returns Adam(1e-3), 200 epochs of batch 32, early
// stopping after 20 stale epochs and halving the rate after 10.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate:      0.001,
		Beta1:             0.9,
		Beta2:             0.999,
		Epsilon:           1e-7,
		BatchSize:         32,
		Epochs:            200,
		EarlyStopPatience: 20,
		RestoreBest:       true,
		ReduceLRPatience:  10,
		ReduceLRFactor:    0.5,
		MinLR:             1e-6,
		Seed:              42,
	}
}

// reduceLRMinDelta is the improvement ReduceLROnPlateau requires.
const reduceLRMinDelta = 1e-4

// Dataset is a set of feature vectors with class indices.
type Dataset struct {
	X [][]float64
	Y []int
}

// Len returns the number of samples.
func (d Dataset) Len() int { return len(d.Y) }

// Subset returns the samples at idx.
func (d Dataset) Subset(idx []int) Dataset {
	s := Dataset{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
	for i, k := range idx {
		s.X[i], s.Y[i] = d.X[k], d.Y[k]
	}
	return s
}

// Epoch holds the metrics of one training epoch.
type Epoch struct {
	Epoch        int // 1-based
	Loss         float64
	Accuracy     float64
	ValLoss      float64
	ValAccuracy  float64
	LearningRate float64
}

// History is the outcome of Train.
type History struct {
	Epochs []Epoch
	// StoppedEpoch is the epoch early stopping fired at (0 = ran to the end).
	StoppedEpoch int
	// BestEpoch is the epoch with the lowest validation loss.
	BestEpoch int
	// CheckpointEpoch is the epoch of the best validation accuracy.
	CheckpointEpoch int
}

// Checkpointer is called whenever validation accuracy improves.
type Checkpointer func(net *Network, e Epoch) error

type trainOptions struct {
	log        logrus.FieldLogger
	checkpoint Checkpointer
	onEpoch    func(Epoch)
}

// TrainOption configures Train.
type TrainOption func(*trainOptions)

// WithTrainLogger sets the logger for per-epoch lines.
func WithTrainLogger(l logrus.FieldLogger) TrainOption {
	return func(o *trainOptions) { o.log = l }
}

// WithCheckpoint saves the model whenever validation accuracy improves.
func WithCheckpoint(c Checkpointer) TrainOption {
	return func(o *trainOptions) { o.checkpoint = c }
}

// WithEpochHook is called after every epoch.
func WithEpochHook(f func(Epoch)) TrainOption {
	return func(o *trainOptions) { o.onEpoch = f }
}

// adamState holds per-parameter first and second moments.
type adamState struct {
	m, v [][]float64
	t    int
}

func newAdamState(ps []*Param) *adamState {
	s := &adamState{m: make([][]float64, len(ps)), v: make([][]float64, len(ps))}
	for i, p := range ps {
		s.m[i] = make([]float64, len(p.W))
		s.v[i] = make([]float64, len(p.W))
	}
	return s
}

// adamUpdate applies one Adam step: params -= lr * m_hat / (sqrt(v_hat) + eps)
// gradScale is applied to gradients.
func adamUpdate(params, grad, m, v []float64, lr, beta1, beta2, eps float64, t int, gradScale float64) {
	bc1 := 1.0 - math.Pow(beta1, float64(t))
	bc2 := 1.0 - math.Pow(beta2, float64(t))
	for i := range params {
		g := grad[i] * gradScale
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

// Train fits net on train with mini-batch Adam, monitoring val after every
// epoch. Early stopping and learning-rate reduction watch the validation
// loss; the checkpointer watches the validation accuracy.
func Train(ctx context.Context, net *Network, train, val Dataset, cfg TrainConfig, opts ...TrainOption) (*History, error) {
	o := trainOptions{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if train.Len() == 0 {
		return nil, errors.New("no training samples")
	}
	if val.Len() == 0 {
		return nil, errors.New("no validation samples")
	}
	if cfg.BatchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = defaultWorkers()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	params := net.Params()
	adam := newAdamState(params)
	lr := cfg.LearningRate

	hist := &History{}
	bestValLoss := math.Inf(1)
	var bestWeights [][]float64
	stopWait := 0

	plateauBest := math.Inf(1)
	plateauWait := 0

	bestValAcc := math.Inf(-1)

	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		totalLoss := 0.0
		totalCorrect := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			idx := order[start:end]
			x, err := net.batchInput(train.X, idx)
			if err != nil {
				return hist, err
			}
			targets := make([]int, len(idx))
			for i, k := range idx {
				targets[i] = train.Y[k]
			}

			p := &pass{train: true, rng: rng, workers: workers}
			loss, correct := net.step(x, targets, p)
			totalLoss += loss * float64(len(idx))
			totalCorrect += correct

			adam.t++
			for i, prm := range params {
				adamUpdate(prm.W, prm.G, adam.m[i], adam.v[i], lr, cfg.Beta1, cfg.Beta2, cfg.Epsilon, adam.t, 1.0)
			}
		}

		valLoss, valAcc, err := Evaluate(net, val, cfg.BatchSize)
		if err != nil {
			return hist, err
		}
		e := Epoch{
			Epoch:        epoch,
			Loss:         totalLoss / float64(train.Len()),
			Accuracy:     float64(totalCorrect) / float64(train.Len()),
			ValLoss:      valLoss,
			ValAccuracy:  valAcc,
			LearningRate: lr,
		}
		hist.Epochs = append(hist.Epochs, e)
		o.log.WithFields(logrus.Fields{
			"epoch":        epoch,
			"loss":         e.Loss,
			"accuracy":     e.Accuracy,
			"val_loss":     e.ValLoss,
			"val_accuracy": e.ValAccuracy,
			"lr":           lr,
		}).Debug("epoch finished")
		if o.onEpoch != nil {
			o.onEpoch(e)
		}

		// early stopping
		stop := false
		if valLoss < bestValLoss {
			bestValLoss = valLoss
			hist.BestEpoch = epoch
			stopWait = 0
			if cfg.RestoreBest {
				bestWeights = net.snapshot()
			}
		} else if cfg.EarlyStopPatience > 0 {
			stopWait++
			if stopWait >= cfg.EarlyStopPatience {
				stop = true
			}
		}

		// reduce learning rate on plateau
		if cfg.ReduceLRPatience > 0 {
			if valLoss < plateauBest-reduceLRMinDelta {
				plateauBest = valLoss
				plateauWait = 0
			} else {
				plateauWait++
				if plateauWait >= cfg.ReduceLRPatience {
					if lr > cfg.MinLR {
						newLR := math.Max(lr*cfg.ReduceLRFactor, cfg.MinLR)
						o.log.WithFields(logrus.Fields{"epoch": epoch, "lr": newLR}).Info("reducing learning rate")
						lr = newLR
					}
					plateauWait = 0
				}
			}
		}

		// checkpoint on best validation accuracy
		if valAcc > bestValAcc {
			bestValAcc = valAcc
			hist.CheckpointEpoch = epoch
			if o.checkpoint != nil {
				if err := o.checkpoint(net, e); err != nil {
					return hist, errors.Wrap(err, "checkpoint")
				}
			}
		}

		if stop {
			hist.StoppedEpoch = epoch
			o.log.WithField("epoch", epoch).Info("early stopping")
			if bestWeights != nil {
				net.restore(bestWeights)
			}
			break
		}
	}
	return hist, nil
}

// Evaluate returns the loss (including the L2 penalty) and accuracy of net
// on d in inference mode.
func Evaluate(net *Network, d Dataset, batchSize int) (float64, float64, error) {
	if d.Len() == 0 {
		return 0, 0, nil
	}
	if batchSize < 1 {
		batchSize = 32
	}
	totalLoss := 0.0
	totalCorrect := 0
	workers := defaultWorkers()
	for start := 0; start < d.Len(); start += batchSize {
		end := start + batchSize
		if end > d.Len() {
			end = d.Len()
		}
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		x, err := net.batchInput(d.X, idx)
		if err != nil {
			return 0, 0, err
		}
		logits := net.forward(x, &pass{workers: workers})
		loss, correct := crossEntropy(logits, d.Y[start:end], nil)
		totalLoss += loss * float64(len(idx))
		totalCorrect += correct
	}
	n := float64(d.Len())
	return totalLoss/n + net.penalty(), float64(totalCorrect) / n, nil
}
