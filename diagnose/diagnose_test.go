package diagnose

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/sirupsen/logrus"
)

const lfsPointer = "version https://git-lfs.github.com/spec/v1\n" +
	"oid sha256:4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393\n" +
	"size 52044\n"

// monoWAV returns a 16 kHz 16-bit mono PCM file with n zero samples.
func monoWAV(n int) []byte {
	var b bytes.Buffer
	dataSize := uint32(n * 2)
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, 36+dataSize)
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint32(16000))
	binary.Write(&b, binary.LittleEndian, uint32(32000))
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, dataSize)
	b.Write(make([]byte, dataSize))
	return b.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// newFixture builds anger/{a,b}.wav (valid), happy/c.wav (LFS pointer) and
// leaves neutral and sadness missing.
func newFixture(t *testing.T) (dataset.Layout, *bytes.Buffer, *Runner) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "anger", "a.wav"), monoWAV(100))
	writeFile(t, filepath.Join(root, "anger", "b.wav"), monoWAV(10))
	writeFile(t, filepath.Join(root, "happy", "c.wav"), []byte(lfsPointer))
	layout := dataset.NewLayout(root, nil)
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	return layout, &out, NewRunner(layout, WithOutput(&out), WithLogger(log))
}

func TestCheckFile(t *testing.T) {
	layout, _, _ := newFixture(t)
	info, ok := CheckFile(filepath.Join(layout.Root, "anger", "a.wav"))
	if !ok {
		t.Fatalf("CheckFile failed: %s", info)
	}
	for _, want := range []string{
		"File size: 244 bytes\n",
		"Channels: 1\n",
		"Sample width: 2 bytes\n",
		"Frame rate: 16000 Hz\n",
		"Number of frames: 100\n",
		"Compression type: NONE\n",
		"Compression name: not compressed\n",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("info missing %q:\n%s", want, info)
		}
	}

	info, ok = CheckFile(filepath.Join(layout.Root, "happy", "c.wav"))
	if ok || !strings.HasPrefix(info, "Error: ") {
		t.Errorf("pointer file: ok = %v info = %q", ok, info)
	}
}

func TestDiagnose(t *testing.T) {
	layout, out, r := newFixture(t)
	res, err := r.Diagnose()
	if err != nil {
		t.Fatalf("Diagnose error: %v", err)
	}
	if res.Total != 3 || res.Readable != 2 || len(res.Problems) != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Sample != filepath.Join(layout.Root, "anger", "a.wav") {
		t.Errorf("Sample = %q", res.Sample)
	}
	report := out.String()
	for _, want := range []string{
		"Warning: Emotion directory not found: " + filepath.Join(layout.Root, "neutral"),
		"Dataset Diagnosis Report:",
		"Total audio files found: 3",
		"Successfully readable files: 2",
		"Problematic files: 1",
		"Detailed information for problematic files:",
		filepath.Join(layout.Root, "happy", "c.wav") + ":\nError: ",
		"Sample information for a readable file:",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestDiagnose_NothingReadable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sadness", "x.wav"), []byte("junk"))
	var out bytes.Buffer
	res, err := NewRunner(dataset.NewLayout(root, nil), WithOutput(&out)).Diagnose()
	if err != nil {
		t.Fatal(err)
	}
	if res.Readable != 0 || res.Sample != "" {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "No audio files could be read successfully") {
		t.Errorf("missing warning:\n%s", out.String())
	}
}

func TestMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Dataset")
	var out bytes.Buffer
	r := NewRunner(dataset.NewLayout(root, nil), WithOutput(&out))

	checks := map[string]func() error{
		"diagnose": func() error { _, err := r.Diagnose(); return err },
		"identify": func() error { _, err := r.IdentifyFormats(); return err },
		"inspect":  func() error { _, err := r.InspectContents(0); return err },
	}
	for name, run := range checks {
		out.Reset()
		if err := run(); !errors.Is(err, ErrDatasetNotFound) {
			t.Errorf("%s: err = %v, want ErrDatasetNotFound", name, err)
		}
		want := "Error: Dataset path '" + root + "' does not exist.\n"
		if out.String() != want {
			t.Errorf("%s: output = %q", name, out.String())
		}
	}
}

func TestIdentifyFormats(t *testing.T) {
	layout, out, r := newFixture(t)
	res, err := r.IdentifyFormats()
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || res.Count(audio.FormatWAV) != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Distribution) != 2 || res.Distribution[0].Format != audio.FormatWAV {
		t.Errorf("distribution = %+v", res.Distribution)
	}
	if len(res.Unknown) != 1 || res.Unknown[0].Path != filepath.Join(layout.Root, "happy", "c.wav") {
		t.Errorf("unknown = %+v", res.Unknown)
	}
	report := out.String()
	for _, want := range []string{
		"File format distribution:\nWAV (RIFF): 2 files\nUnknown: 76657273696f6e2068747470: 1 files\n",
		"Sample of files with unknown format:\n",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestIdentifyFormats_UnknownCapped(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 7; i++ {
		writeFile(t, filepath.Join(root, "neutral", string(rune('a'+i))+".wav"), []byte("garbage-bytes"))
	}
	var out bytes.Buffer
	res, err := NewRunner(dataset.NewLayout(root, nil), WithOutput(&out)).IdentifyFormats()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unknown) != 5 {
		t.Errorf("unknown samples = %d, want 5", len(res.Unknown))
	}
}

func TestInspectContents(t *testing.T) {
	layout, out, r := newFixture(t)
	res, err := r.InspectContents(0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || len(res.Samples) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Samples[2].Content != lfsPointer {
		t.Errorf("pointer content = %q", res.Samples[2].Content)
	}
	report := out.String()
	if !strings.Contains(report, "File: "+filepath.Join(layout.Root, "happy", "c.wav")+"\nversion https://") {
		t.Errorf("report:\n%s", report)
	}
	if strings.Count(report, strings.Repeat("-", 50)+"\n") != 3 {
		t.Errorf("want 3 separators:\n%s", report)
	}
}

func TestVerifyLFS(t *testing.T) {
	layout, out, r := newFixture(t)
	res, err := r.VerifyLFS()
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || res.Valid != 2 || res.Invalid() != 1 || res.Pointers != 1 {
		t.Errorf("result = %+v", res)
	}
	report := out.String()
	for _, want := range []string{
		"Total files: 3\n",
		"Valid WAV files: 2\n",
		"Warning: 1 files are not valid WAV files.\n",
		"  " + filepath.Join(layout.Root, "happy", "c.wav") + "\n",
		"git lfs pull",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestVerifyLFS_AllValid(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "anger", "a.wav"), monoWAV(4))
	var out bytes.Buffer
	res, err := NewRunner(dataset.NewLayout(root, []string{"anger"}), WithOutput(&out)).VerifyLFS()
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "All files are valid WAV files.") {
		t.Errorf("report:\n%s", out.String())
	}
}

func TestVerifyLFS_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Dataset")
	var out bytes.Buffer
	res, err := NewRunner(dataset.NewLayout(root, nil), WithOutput(&out)).VerifyLFS()
	if err != nil {
		t.Fatalf("VerifyLFS error: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("Total = %d", res.Total)
	}
	if strings.Count(out.String(), "Warning: Emotion directory not found") != 4 {
		t.Errorf("report:\n%s", out.String())
	}
}
