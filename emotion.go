// Package emotion recognizes the emotion expressed in a speech recording
// with a trained CNN-LSTM model, its feature scaler and label encoder.
package emotion

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/feature"
)

// Recognizer is the top-level emotion recognizer.
type Recognizer struct {
	Model   *classifier.Network
	Scaler  *classifier.Scaler
	Encoder *classifier.LabelEncoder
	FeatCfg feature.Config
	decoder *audio.Decoder
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithFeatureConfig sets the feature parameters used at training time.
func WithFeatureConfig(cfg feature.Config) Option {
	return func(r *Recognizer) {
		r.FeatCfg = cfg
	}
}

// WithDecoder replaces the default decoder chain.
func WithDecoder(d *audio.Decoder) Option {
	return func(r *Recognizer) {
		r.decoder = d
	}
}

// Prediction is the outcome for one recording.
type Prediction struct {
	Label         string
	Confidence    float64
	Probabilities map[string]float64
}

// Ranked returns the labels ordered by decreasing probability.
func (p *Prediction) Ranked() []string {
	labels := make([]string, 0, len(p.Probabilities))
	for l := range p.Probabilities {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		pi, pj := p.Probabilities[labels[i]], p.Probabilities[labels[j]]
		if pi != pj {
			return pi > pj
		}
		return labels[i] < labels[j]
	})
	return labels
}

// NewRecognizer loads the three training artifacts.
func NewRecognizer(modelPath, scalerPath, encoderPath string, opts ...Option) (*Recognizer, error) {
	model, err := classifier.LoadFile(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "load model")
	}
	scaler, err := classifier.LoadScalerFile(scalerPath)
	if err != nil {
		return nil, errors.Wrap(err, "load scaler")
	}
	encoder, err := classifier.LoadLabelEncoderFile(encoderPath)
	if err != nil {
		return nil, errors.Wrap(err, "load label encoder")
	}
	return NewRecognizerFromModels(model, scaler, encoder, opts...)
}

// NewRecognizerFromModels creates a Recognizer from loaded artifacts and
// checks that their dimensions agree.
func NewRecognizerFromModels(model *classifier.Network, scaler *classifier.Scaler, encoder *classifier.LabelEncoder, opts ...Option) (*Recognizer, error) {
	r := &Recognizer{
		Model:   model,
		Scaler:  scaler,
		Encoder: encoder,
		FeatCfg: feature.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.decoder == nil {
		r.decoder = audio.NewDecoder()
	}
	if err := r.FeatCfg.Validate(); err != nil {
		return nil, err
	}
	if dim := r.FeatCfg.Dim(); dim != scaler.Dim() || dim != model.InputLen {
		return nil, errors.Errorf("feature size mismatch: features %d, scaler %d, model %d", dim, scaler.Dim(), model.InputLen)
	}
	if encoder.Len() != model.NumClasses {
		return nil, errors.Errorf("label encoder has %d classes, model %d", encoder.Len(), model.NumClasses)
	}
	return r, nil
}

// ArtifactSource downloads a stored artifact into dir.
type ArtifactSource interface {
	Fetch(ctx context.Context, key, dir string) (string, error)
}

// ArtifactKeys locate the artifacts of one training run.
type ArtifactKeys struct {
	Model, Scaler, Encoder string
}

// NewRecognizerFromStore fetches the artifacts named by keys into dir and
// loads them.
func NewRecognizerFromStore(ctx context.Context, src ArtifactSource, keys ArtifactKeys, dir string, opts ...Option) (*Recognizer, error) {
	var paths [3]string
	for i, key := range []string{keys.Model, keys.Scaler, keys.Encoder} {
		if key == "" {
			return nil, errors.New("artifact key is empty")
		}
		p, err := src.Fetch(ctx, key, dir)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return NewRecognizer(paths[0], paths[1], paths[2], opts...)
}

// Labels returns the class names the model predicts.
func (r *Recognizer) Labels() []string {
	return r.Encoder.Classes
}

// PredictFile decodes the audio file at path and predicts its emotion.
func (r *Recognizer) PredictFile(ctx context.Context, path string) (*Prediction, error) {
	clip, err := r.decoder.Decode(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "decode audio")
	}
	return r.PredictClip(clip)
}

// PredictClip predicts the emotion of a decoded clip.
func (r *Recognizer) PredictClip(clip audio.Clip) (*Prediction, error) {
	if target := r.FeatCfg.TargetSampleRate; target > 0 && clip.SampleRate != target {
		clip = audio.ResampleClip(clip, target)
	}
	feats, err := feature.Summarize(clip.Samples, clip.SampleRate, r.FeatCfg)
	if err != nil {
		return nil, errors.Wrap(err, "extract features")
	}
	scaled, err := r.Scaler.Transform(feats)
	if err != nil {
		return nil, err
	}
	probs, err := r.Model.PredictOne(scaled)
	if err != nil {
		return nil, err
	}
	k := classifier.Argmax(probs)
	label, err := r.Encoder.Label(k)
	if err != nil {
		return nil, err
	}
	p := &Prediction{
		Label:         label,
		Confidence:    probs[k],
		Probabilities: make(map[string]float64, len(probs)),
	}
	for i, v := range probs {
		p.Probabilities[r.Encoder.Classes[i]] = v
	}
	return p, nil
}
