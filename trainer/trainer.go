// Package trainer runs the end-to-end training pipeline: dataset walk,
// feature extraction, stratified split, scaling, CNN-LSTM training with
// checkpointing, evaluation and artifact persistence.
package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/feature"
	"github.com/ieee0824/emotion-go/internal/store"
)

// ErrNoSamples is returned when no file under the root could be used.
var ErrNoSamples = errors.New("no usable audio files")

// Paths are the files written by a run.
type Paths struct {
	Model      string
	Checkpoint string
	Scaler     string
	Encoder    string
}

type Config struct {
	Root      string
	Features  feature.Config
	Train     classifier.TrainConfig
	Arch      classifier.Architecture
	TestSize  float64
	SplitSeed int64
	Workers   int // extraction workers, 0 = NumCPU capped at 8
	Artifacts Paths
}

// DefaultConfig returns the settings of the stock training command.
func DefaultConfig() Config {
	return Config{
		Root:      "Dataset",
		Features:  feature.DefaultConfig(),
		Train:     classifier.DefaultTrainConfig(),
		Arch:      classifier.DefaultArchitecture(),
		TestSize:  0.2,
		SplitSeed: 42,
		Artifacts: Paths{
			Model:      "improved_emotion_recognition_model.gob",
			Checkpoint: "best_model.gob",
			Scaler:     "feature_scaler.yaml",
			Encoder:    "label_encoder.yaml",
		},
	}
}

// RunStore records training runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *store.TrainingRun) error
	SaveRun(ctx context.Context, run *store.TrainingRun) error
}

// Publisher uploads a finished artifact and returns its key.
type Publisher interface {
	Publish(ctx context.Context, runID, localPath string) (string, error)
}

type Trainer struct {
	cfg       Config
	out       io.Writer
	progress  io.Writer
	log       logrus.FieldLogger
	decoder   *audio.Decoder
	runs      RunStore
	publisher Publisher
}

type Option func(*Trainer)

// WithOutput sets where the report is printed (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

// WithProgress renders an extraction progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Trainer) { t.log = l }
}

// WithDecoder replaces the default decoder chain.
func WithDecoder(d *audio.Decoder) Option {
	return func(t *Trainer) { t.decoder = d }
}

func WithRunStore(s RunStore) Option {
	return func(t *Trainer) { t.runs = s }
}

func WithPublisher(p Publisher) Option {
	return func(t *Trainer) { t.publisher = p }
}

func New(cfg Config, opts ...Option) *Trainer {
	t := &Trainer{
		cfg: cfg,
		out: os.Stdout,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.decoder == nil {
		t.decoder = audio.NewDecoder(audio.WithLogger(t.log))
	}
	return t
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	NumSamples   int
	NumFeatures  int
	Distribution map[string]int
	Classes      []string
	History      *classifier.History
	TestAccuracy float64
	// Keys of the published artifacts, empty without a publisher.
	ModelKey, ScalerKey, EncoderKey string
}

// Run executes the pipeline once.
func (t *Trainer) Run(ctx context.Context) (res *Result, err error) {
	res = &Result{RunID: uuid.NewString()}
	log := t.log.WithField("run", res.RunID)

	run := &store.TrainingRun{ID: res.RunID, Status: store.StatusRunning, DatasetRoot: t.cfg.Root}
	if t.runs != nil {
		if err := t.runs.CreateRun(ctx, run); err != nil {
			return nil, err
		}
		defer func() {
			now := time.Now()
			run.FinishedAt = &now
			run.Status = store.StatusSucceeded
			if err != nil {
				run.Status = store.StatusFailed
				run.Error = err.Error()
			}
			// the run context may already be canceled
			if serr := t.runs.SaveRun(context.Background(), run); serr != nil {
				log.WithError(serr).Warn("could not record run")
			}
		}()
	}

	files, err := dataset.Walk(t.cfg.Root)
	if errors.Is(err, dataset.ErrNotFound) {
		fmt.Fprintf(t.out, "Error: Dataset path '%s' does not exist.\n", t.cfg.Root)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("files", len(files)).Info("extracting features")
	samples, err := t.Extract(ctx, files)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Wrapf(ErrNoSamples, "under %s", t.cfg.Root)
	}

	x := make([][]float64, len(samples))
	kept := make([]dataset.File, len(samples))
	for i, s := range samples {
		x[i], kept[i] = s.Features, s.File
	}
	labels := dataset.Labels(kept)
	order, counts := dataset.Distribution(kept)
	res.NumSamples, res.NumFeatures = len(x), len(x[0])
	res.Distribution = counts
	dist := formatDistribution(order, counts)
	fmt.Fprintf(t.out, "Total number of samples: %d\n", res.NumSamples)
	fmt.Fprintf(t.out, "Number of features: %d\n", res.NumFeatures)
	fmt.Fprintf(t.out, "Emotion distribution: %s\n", dist)
	run.NumSamples, run.NumFeatures = res.NumSamples, res.NumFeatures
	run.Distribution = dist

	encoder := classifier.FitLabelEncoder(labels)
	if encoder.Len() < 2 {
		return nil, errors.Errorf("need at least 2 emotions, found %v", encoder.Classes)
	}
	res.Classes = encoder.Classes
	y, err := encoder.Transform(labels)
	if err != nil {
		return nil, err
	}
	data := classifier.Dataset{X: x, Y: y}

	trainIdx, testIdx, err := classifier.StratifiedSplit(y, t.cfg.TestSize, t.cfg.SplitSeed)
	if err != nil {
		return nil, errors.Wrap(err, "splitting dataset")
	}
	trainSet, testSet := data.Subset(trainIdx), data.Subset(testIdx)

	scaler, err := classifier.FitScaler(trainSet.X)
	if err != nil {
		return nil, err
	}
	if trainSet.X, err = scaler.TransformAll(trainSet.X); err != nil {
		return nil, err
	}
	if testSet.X, err = scaler.TransformAll(testSet.X); err != nil {
		return nil, err
	}

	net, err := classifier.NewNetwork(res.NumFeatures, encoder.Len(), t.cfg.Arch, t.cfg.Train.Seed)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"train":  trainSet.Len(),
		"test":   testSet.Len(),
		"params": net.NumParams(),
	}).Info("training")

	paths := t.cfg.Artifacts
	hist, err := classifier.Train(ctx, net, trainSet, testSet, t.cfg.Train,
		classifier.WithTrainLogger(log),
		classifier.WithCheckpoint(func(n *classifier.Network, e classifier.Epoch) error {
			log.WithFields(logrus.Fields{"epoch": e.Epoch, "val_accuracy": e.ValAccuracy}).Debug("saving checkpoint")
			return classifier.SaveFile(paths.Checkpoint, n)
		}),
		classifier.WithEpochHook(func(e classifier.Epoch) {
			fmt.Fprintf(t.out, "Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f - learning_rate: %.4g\n",
				e.Epoch, t.cfg.Train.Epochs, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.LearningRate)
		}),
	)
	if err != nil {
		return nil, err
	}
	res.History = hist
	run.Epochs, run.BestEpoch, run.StoppedEpoch = len(hist.Epochs), hist.BestEpoch, hist.StoppedEpoch

	best, err := classifier.LoadFile(paths.Checkpoint)
	if err != nil {
		return nil, errors.Wrap(err, "loading checkpoint")
	}
	_, acc, err := classifier.Evaluate(best, testSet, t.cfg.Train.BatchSize)
	if err != nil {
		return nil, err
	}
	res.TestAccuracy = acc
	run.TestAccuracy = acc
	fmt.Fprintf(t.out, "Test accuracy: %.4f\n", acc)

	if err := classifier.SaveFile(paths.Model, best); err != nil {
		return nil, err
	}
	if err := classifier.SaveFile(paths.Scaler, scaler); err != nil {
		return nil, err
	}
	if err := classifier.SaveFile(paths.Encoder, encoder); err != nil {
		return nil, err
	}
	fmt.Fprintln(t.out, "Model and preprocessing objects saved.")

	if t.publisher != nil {
		keys := []*string{&res.ModelKey, &res.ScalerKey, &res.EncoderKey}
		for i, p := range []string{paths.Model, paths.Scaler, paths.Encoder} {
			key, err := t.publisher.Publish(ctx, res.RunID, p)
			if err != nil {
				return nil, err
			}
			*keys[i] = key
		}
		run.ModelKey, run.ScalerKey, run.EncoderKey = res.ModelKey, res.ScalerKey, res.EncoderKey
		log.WithField("model", res.ModelKey).Info("artifacts published")
	}
	return res, nil
}

// formatDistribution lists label counts in the given label order.
func formatDistribution(order []string, counts map[string]int) string {
	parts := make([]string, len(order))
	for i, l := range order {
		parts[i] = fmt.Sprintf("%s: %d", l, counts[l])
	}
	return strings.Join(parts, ", ")
}
