package classifier

import (
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Scaler standardises each feature to zero mean and unit variance using the
// population standard deviation. Constant features keep scale 1.
type Scaler struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

// FitScaler computes per-column statistics of x.
func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, errors.New("no samples to fit")
	}
	dim := len(x[0])
	s := &Scaler{Mean: make([]float64, dim), Scale: make([]float64, dim)}
	col := make([]float64, len(x))
	for j := 0; j < dim; j++ {
		for i, row := range x {
			if len(row) != dim {
				return nil, errors.Errorf("sample %d has %d features, want %d", i, len(row), dim)
			}
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		std := math.Sqrt(variance)
		if std < 10*epsilon {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s, nil
}

// machine epsilon for float64
const epsilon = 2.220446049250313e-16

// Dim returns the number of features.
func (s *Scaler) Dim() int { return len(s.Mean) }

// Transform returns a standardised copy of v.
func (s *Scaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, errors.Errorf("vector has %d features, scaler expects %d", len(v), len(s.Mean))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardises every row.
func (s *Scaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, v := range x {
		t, err := s.Transform(v)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		out[i] = t
	}
	return out, nil
}

// Save writes the scaler as YAML.
func (s *Scaler) Save(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(s)
}

// LoadScaler reads a YAML scaler.
func LoadScaler(r io.Reader) (*Scaler, error) {
	var s Scaler
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decoding scaler")
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, errors.Errorf("scaler has %d means and %d scales", len(s.Mean), len(s.Scale))
	}
	return &s, nil
}

// LabelEncoder maps label strings to indices in sorted order.
type LabelEncoder struct {
	Classes []string `yaml:"classes"`
	index   map[string]int
}

// FitLabelEncoder collects the sorted unique labels.
func FitLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]bool)
	var classes []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	sort.Strings(classes)
	return NewLabelEncoder(classes)
}

// NewLabelEncoder wraps an already sorted class list.
func NewLabelEncoder(classes []string) *LabelEncoder {
	e := &LabelEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Transform returns the index of each label.
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		k, ok := e.index[l]
		if !ok {
			return nil, errors.Errorf("unseen label %q", l)
		}
		out[i] = k
	}
	return out, nil
}

// Label returns the class name of index k.
func (e *LabelEncoder) Label(k int) (string, error) {
	if k < 0 || k >= len(e.Classes) {
		return "", errors.Errorf("class index %d out of range", k)
	}
	return e.Classes[k], nil
}

// Len returns the number of classes.
func (e *LabelEncoder) Len() int { return len(e.Classes) }

// Save writes the encoder as YAML.
func (e *LabelEncoder) Save(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(e)
}

// LoadLabelEncoder reads a YAML label encoder.
func LoadLabelEncoder(r io.Reader) (*LabelEncoder, error) {
	var e LabelEncoder
	if err := yaml.NewDecoder(r).Decode(&e); err != nil {
		return nil, errors.Wrap(err, "decoding label encoder")
	}
	if len(e.Classes) == 0 {
		return nil, errors.New("label encoder has no classes")
	}
	return NewLabelEncoder(e.Classes), nil
}

// saver is implemented by Scaler, LabelEncoder and Network.
type saver interface {
	Save(w io.Writer) error
}

// SaveFile writes v to path.
func SaveFile(path string, v saver) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v.Save(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}

// LoadScalerFile reads a scaler from path.
func LoadScalerFile(path string) (*Scaler, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadScaler(f)
}

// LoadLabelEncoderFile reads a label encoder from path.
func LoadLabelEncoderFile(path string) (*LabelEncoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadLabelEncoder(f)
}
