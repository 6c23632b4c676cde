package trainer

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/internal/logging"
	"github.com/ieee0824/emotion-go/internal/store"
)

// writeTone writes a 16-bit mono sine WAV.
func writeTone(t *testing.T, path string, freq float64, n, sampleRate int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(12000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// newCorpus builds root/{anger,happy} with six tones each plus one
// unreadable file.
func newCorpus(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Dataset")
	for label, base := range map[string]float64{"anger": 200, "happy": 1800} {
		dir := filepath.Join(root, label)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 6; i++ {
			writeTone(t, filepath.Join(dir, "clip"+string(rune('a'+i))+".wav"), base+float64(i)*20, 2400, 8000)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "anger", "zbroken.wav"), []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "anger", "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func testConfig(root, out string) Config {
	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Arch = classifier.Architecture{
		ConvFilters: []int{4},
		KernelSize:  3,
		PoolSize:    2,
		LSTMUnits:   []int{4},
		DenseUnits:  4,
		Dropout:     0.5,
		L2:          0.01,
	}
	cfg.Train.Epochs = 3
	cfg.Train.BatchSize = 4
	cfg.Train.Workers = 1
	cfg.Workers = 3
	cfg.Artifacts = Paths{
		Model:      filepath.Join(out, "model.gob"),
		Checkpoint: filepath.Join(out, "best_model.gob"),
		Scaler:     filepath.Join(out, "feature_scaler.yaml"),
		Encoder:    filepath.Join(out, "label_encoder.yaml"),
	}
	return cfg
}

func testDecoder() *audio.Decoder {
	return audio.NewDecoder(audio.WithoutFFmpeg(), audio.WithLogger(logging.Discard()))
}

type fakeRuns struct {
	created []store.TrainingRun
	saved   []store.TrainingRun
}

func (f *fakeRuns) CreateRun(_ context.Context, r *store.TrainingRun) error {
	f.created = append(f.created, *r)
	return nil
}

func (f *fakeRuns) SaveRun(_ context.Context, r *store.TrainingRun) error {
	f.saved = append(f.saved, *r)
	return nil
}

type fakePublisher struct{ published []string }

func (f *fakePublisher) Publish(_ context.Context, runID, localPath string) (string, error) {
	key := runID + "/" + filepath.Base(localPath)
	f.published = append(f.published, key)
	return key, nil
}

func TestExtract_OrderAndFailures(t *testing.T) {
	root := newCorpus(t)
	files, err := dataset.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 13 {
		t.Fatalf("walk found %d files", len(files))
	}
	var out, bar bytes.Buffer
	tr := New(testConfig(root, t.TempDir()),
		WithOutput(&out), WithProgress(&bar), WithDecoder(testDecoder()), WithLogger(logging.Discard()))
	samples, err := tr.Extract(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 12 {
		t.Fatalf("got %d samples, want 12", len(samples))
	}
	for i, s := range samples {
		if len(s.Features) != 180 {
			t.Errorf("sample %d has %d features", i, len(s.Features))
		}
		if i > 0 && samples[i-1].Path >= s.Path {
			t.Errorf("samples out of walk order at %d", i)
		}
	}
	if !strings.Contains(out.String(), "Error reading "+filepath.Join(root, "anger", "zbroken.wav")) {
		t.Errorf("missing skip report:\n%s", out.String())
	}
}

func TestExtract_Canceled(t *testing.T) {
	root := newCorpus(t)
	files, _ := dataset.Walk(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := New(testConfig(root, t.TempDir()), WithOutput(&bytes.Buffer{}), WithDecoder(testDecoder()), WithLogger(logging.Discard()))
	if _, err := tr.Extract(ctx, files); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun(t *testing.T) {
	root := newCorpus(t)
	outDir := t.TempDir()
	var out bytes.Buffer
	runs := &fakeRuns{}
	pub := &fakePublisher{}
	tr := New(testConfig(root, outDir),
		WithOutput(&out),
		WithDecoder(testDecoder()),
		WithLogger(logging.Discard()),
		WithRunStore(runs),
		WithPublisher(pub),
	)
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v\n%s", err, out.String())
	}

	report := out.String()
	for _, want := range []string{
		"Total number of samples: 12\n",
		"Number of features: 180\n",
		"Emotion distribution: anger: 6, happy: 6\n",
		"Epoch 1/3 - loss: ",
		"Test accuracy: ",
		"Model and preprocessing objects saved.\n",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
	if res.NumSamples != 12 || res.NumFeatures != 180 || len(res.Classes) != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.TestAccuracy < 0 || res.TestAccuracy > 1 {
		t.Errorf("accuracy = %f", res.TestAccuracy)
	}

	paths := tr.cfg.Artifacts
	net, err := classifier.LoadFile(paths.Model)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if net.InputLen != 180 || net.NumClasses != 2 {
		t.Errorf("model shape %d/%d", net.InputLen, net.NumClasses)
	}
	if _, err := os.Stat(paths.Checkpoint); err != nil {
		t.Errorf("checkpoint: %v", err)
	}
	scaler, err := classifier.LoadScalerFile(paths.Scaler)
	if err != nil || scaler.Dim() != 180 {
		t.Errorf("scaler: %v", err)
	}
	enc, err := classifier.LoadLabelEncoderFile(paths.Encoder)
	if err != nil || strings.Join(enc.Classes, ",") != "anger,happy" {
		t.Errorf("encoder: %+v, %v", enc, err)
	}

	if len(pub.published) != 3 || res.ModelKey != res.RunID+"/model.gob" {
		t.Errorf("published %v, model key %q", pub.published, res.ModelKey)
	}
	if len(runs.created) != 1 || runs.created[0].Status != store.StatusRunning {
		t.Fatalf("created runs = %+v", runs.created)
	}
	if len(runs.saved) != 1 {
		t.Fatalf("saved runs = %+v", runs.saved)
	}
	final := runs.saved[0]
	if final.ID != res.RunID || final.Status != store.StatusSucceeded || final.NumSamples != 12 ||
		final.ModelKey != res.ModelKey || final.FinishedAt == nil {
		t.Errorf("final run = %+v", final)
	}
}

func TestRun_MissingRoot(t *testing.T) {
	runs := &fakeRuns{}
	var out bytes.Buffer
	tr := New(testConfig(filepath.Join(t.TempDir(), "nope"), t.TempDir()),
		WithOutput(&out), WithDecoder(testDecoder()), WithLogger(logging.Discard()), WithRunStore(runs))
	_, err := tr.Run(context.Background())
	if !errors.Is(err, dataset.ErrNotFound) {
		t.Fatalf("err = %v, want dataset.ErrNotFound", err)
	}
	if !strings.Contains(out.String(), "does not exist") {
		t.Errorf("output = %q", out.String())
	}
	if len(runs.saved) != 1 || runs.saved[0].Status != store.StatusFailed || runs.saved[0].Error == "" {
		t.Errorf("saved = %+v", runs.saved)
	}
}

func TestRun_NoUsableFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Dataset")
	os.MkdirAll(filepath.Join(root, "anger"), 0o755)
	os.WriteFile(filepath.Join(root, "anger", "a.wav"), []byte("junk"), 0o644)
	tr := New(testConfig(root, t.TempDir()), WithOutput(&bytes.Buffer{}), WithDecoder(testDecoder()), WithLogger(logging.Discard()))
	if _, err := tr.Run(context.Background()); !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples", err)
	}
}

func TestFormatDistribution(t *testing.T) {
	got := formatDistribution([]string{"anger", "happy", "sadness"}, map[string]int{"sadness": 3, "anger": 1, "happy": 2})
	if got != "anger: 1, happy: 2, sadness: 3" {
		t.Errorf("got %q", got)
	}
}
