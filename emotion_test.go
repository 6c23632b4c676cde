package emotion

import (
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/feature"
	"github.com/ieee0824/emotion-go/internal/logging"
)

func tinyArch() classifier.Architecture {
	return classifier.Architecture{
		ConvFilters: []int{2},
		KernelSize:  3,
		PoolSize:    2,
		LSTMUnits:   []int{3},
		DenseUnits:  3,
		Dropout:     0.5,
		L2:          0.01,
	}
}

// writeArtifacts saves an untrained model with a scaler and encoder.
func writeArtifacts(t *testing.T, dir string, classes []string) (string, string, string) {
	t.Helper()
	net, err := classifier.NewNetwork(180, len(classes), tinyArch(), 1)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x := make([][]float64, 8)
	for i := range x {
		x[i] = make([]float64, 180)
		for j := range x[i] {
			x[i][j] = rng.NormFloat64()
		}
	}
	scaler, err := classifier.FitScaler(x)
	if err != nil {
		t.Fatal(err)
	}
	model := filepath.Join(dir, "model.gob")
	sc := filepath.Join(dir, "feature_scaler.yaml")
	enc := filepath.Join(dir, "label_encoder.yaml")
	for p, v := range map[string]interface{ Save(w io.Writer) error }{
		model: net,
		sc:    scaler,
		enc:   classifier.NewLabelEncoder(classes),
	} {
		if err := classifier.SaveFile(p, v); err != nil {
			t.Fatal(err)
		}
	}
	return model, sc, enc
}

func tone(freq float64, n, sampleRate int) audio.Clip {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.4 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return audio.Clip{Samples: s, SampleRate: sampleRate}
}

func testDecoder() *audio.Decoder {
	return audio.NewDecoder(audio.WithoutFFmpeg(), audio.WithLogger(logging.Discard()))
}

func TestPredictClip(t *testing.T) {
	classes := []string{"anger", "happy", "neutral", "sadness"}
	m, s, e := writeArtifacts(t, t.TempDir(), classes)
	r, err := NewRecognizer(m, s, e, WithDecoder(testDecoder()))
	if err != nil {
		t.Fatalf("NewRecognizer error: %v", err)
	}
	p, err := r.PredictClip(tone(440, 8000, 16000))
	if err != nil {
		t.Fatalf("PredictClip error: %v", err)
	}
	sum := 0.0
	for _, v := range p.Probabilities {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 || len(p.Probabilities) != 4 {
		t.Errorf("probabilities = %v", p.Probabilities)
	}
	if p.Probabilities[p.Label] != p.Confidence {
		t.Errorf("label %s confidence %f, probability %f", p.Label, p.Confidence, p.Probabilities[p.Label])
	}
	ranked := p.Ranked()
	if ranked[0] != p.Label || len(ranked) != 4 {
		t.Errorf("ranked = %v, label %s", ranked, p.Label)
	}
	if len(r.Labels()) != 4 {
		t.Errorf("labels = %v", r.Labels())
	}
}

func TestPredictFile(t *testing.T) {
	dir := t.TempDir()
	m, s, e := writeArtifacts(t, dir, []string{"anger", "happy"})
	r, err := NewRecognizer(m, s, e, WithDecoder(testDecoder()))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	clip := tone(300, 4000, 8000)
	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 8000}, SourceBitDepth: 16}
	for _, v := range clip.Samples {
		buf.Data = append(buf.Data, int(v*32767))
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	enc.Close()
	f.Close()

	p, err := r.PredictFile(context.Background(), path)
	if err != nil {
		t.Fatalf("PredictFile error: %v", err)
	}
	if p.Label != "anger" && p.Label != "happy" {
		t.Errorf("label = %q", p.Label)
	}

	junk := filepath.Join(dir, "junk.wav")
	os.WriteFile(junk, []byte("nope"), 0o644)
	if _, err := r.PredictFile(context.Background(), junk); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewRecognizer_Mismatch(t *testing.T) {
	m, s, e := writeArtifacts(t, t.TempDir(), []string{"anger", "happy"})
	cfg := feature.DefaultConfig()
	cfg.Chroma = false
	if _, err := NewRecognizer(m, s, e, WithFeatureConfig(cfg)); err == nil {
		t.Error("expected feature size mismatch")
	}

	model, _ := classifier.LoadFile(m)
	scaler, _ := classifier.LoadScalerFile(s)
	if _, err := NewRecognizerFromModels(model, scaler, classifier.NewLabelEncoder([]string{"a", "b", "c"})); err == nil {
		t.Error("expected class count mismatch")
	}
	if _, err := NewRecognizer(filepath.Join(t.TempDir(), "missing.gob"), s, e); err == nil {
		t.Error("expected error for a missing model")
	}
}

// dirSource serves artifacts from a local directory keyed by file name.
type dirSource struct{ root string }

func (d dirSource) Fetch(_ context.Context, key, dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(d.root, key))
	if err != nil {
		return "", err
	}
	os.MkdirAll(dir, 0o755)
	dst := filepath.Join(dir, key)
	return dst, os.WriteFile(dst, b, 0o644)
}

func TestNewRecognizerFromStore(t *testing.T) {
	root := t.TempDir()
	writeArtifacts(t, root, []string{"neutral", "sadness"})
	keys := ArtifactKeys{Model: "model.gob", Scaler: "feature_scaler.yaml", Encoder: "label_encoder.yaml"}
	r, err := NewRecognizerFromStore(context.Background(), dirSource{root}, keys, filepath.Join(t.TempDir(), "cache"), WithDecoder(testDecoder()))
	if err != nil {
		t.Fatalf("NewRecognizerFromStore error: %v", err)
	}
	if r.Labels()[1] != "sadness" {
		t.Errorf("labels = %v", r.Labels())
	}
	keys.Scaler = ""
	if _, err := NewRecognizerFromStore(context.Background(), dirSource{root}, keys, t.TempDir()); err == nil {
		t.Error("expected error for an empty key")
	}
}
