// Package config loads settings shared by every command from defaults,
// an optional config.yaml, SER_* environment variables and command flags.
package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/feature"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SER"

type Dataset struct {
	Root   string   `mapstructure:"root"`
	Labels []string `mapstructure:"labels"`
}

type Train struct {
	classifier.TrainConfig `mapstructure:",squash"`

	TestSize       float64 `mapstructure:"test_size"`
	SplitSeed      int64   `mapstructure:"split_seed"`
	ExtractWorkers int     `mapstructure:"extract_workers"`
	Progress       bool    `mapstructure:"progress"`
}

// Artifacts names the files written by training, relative to Dir.
type Artifacts struct {
	Dir        string `mapstructure:"dir"`
	Model      string `mapstructure:"model"`
	Checkpoint string `mapstructure:"checkpoint"`
	Scaler     string `mapstructure:"scaler"`
	Encoder    string `mapstructure:"encoder"`
}

// Path joins name onto Dir.
func (a Artifacts) Path(name string) string {
	return filepath.Join(a.Dir, name)
}

// Storage selects where trained artifacts are published. Provider is
// "none", "local" or "s3".
type Storage struct {
	Provider  string `mapstructure:"provider"`
	LocalRoot string `mapstructure:"local_root"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	KeyID     string `mapstructure:"key_id"`
	AppKey    string `mapstructure:"app_key"`
}

// Database selects the run and prediction store. Driver is "none",
// "sqlite" or "postgres". For sqlite Name is the file path.
type Database struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type Server struct {
	Addr        string `mapstructure:"addr"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
	Debug       bool   `mapstructure:"debug"`
	// FromStore loads the artifacts of the latest training run instead of
	// the local files.
	FromStore bool `mapstructure:"from_store"`
	// RunID selects a recorded run for FromStore; empty means the latest
	// successful one.
	RunID    string `mapstructure:"run_id"`
	CacheDir string `mapstructure:"cache_dir"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Dataset   Dataset                 `mapstructure:"dataset"`
	Features  feature.Config          `mapstructure:"features"`
	Train     Train                   `mapstructure:"train"`
	Model     classifier.Architecture `mapstructure:"model"`
	Artifacts Artifacts               `mapstructure:"artifacts"`
	Storage   Storage                 `mapstructure:"storage"`
	Database  Database                `mapstructure:"database"`
	Server    Server                  `mapstructure:"server"`
	Log       Log                     `mapstructure:"log"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset.root", "Dataset")
	v.SetDefault("dataset.labels", dataset.DefaultLabels)

	fc := feature.DefaultConfig()
	v.SetDefault("features.n_fft", fc.NFFT)
	v.SetDefault("features.hop_length", fc.HopLength)
	v.SetDefault("features.n_mfcc", fc.NumMFCC)
	v.SetDefault("features.n_mels", fc.NumMels)
	v.SetDefault("features.n_chroma", fc.NumChroma)
	v.SetDefault("features.fmin", fc.FMin)
	v.SetDefault("features.fmax", fc.FMax)
	v.SetDefault("features.top_db", fc.TopDB)
	v.SetDefault("features.mfcc", fc.MFCC)
	v.SetDefault("features.chroma", fc.Chroma)
	v.SetDefault("features.mel", fc.Mel)
	v.SetDefault("features.target_sample_rate", fc.TargetSampleRate)

	tc := classifier.DefaultTrainConfig()
	v.SetDefault("train.learning_rate", tc.LearningRate)
	v.SetDefault("train.beta1", tc.Beta1)
	v.SetDefault("train.beta2", tc.Beta2)
	v.SetDefault("train.epsilon", tc.Epsilon)
	v.SetDefault("train.batch_size", tc.BatchSize)
	v.SetDefault("train.epochs", tc.Epochs)
	v.SetDefault("train.early_stop_patience", tc.EarlyStopPatience)
	v.SetDefault("train.restore_best", tc.RestoreBest)
	v.SetDefault("train.reduce_lr_patience", tc.ReduceLRPatience)
	v.SetDefault("train.reduce_lr_factor", tc.ReduceLRFactor)
	v.SetDefault("train.min_lr", tc.MinLR)
	v.SetDefault("train.seed", tc.Seed)
	v.SetDefault("train.workers", tc.Workers)
	v.SetDefault("train.test_size", 0.2)
	v.SetDefault("train.split_seed", 42)
	v.SetDefault("train.extract_workers", 0)
	v.SetDefault("train.progress", true)

	arch := classifier.DefaultArchitecture()
	v.SetDefault("model.conv_filters", arch.ConvFilters)
	v.SetDefault("model.kernel_size", arch.KernelSize)
	v.SetDefault("model.pool_size", arch.PoolSize)
	v.SetDefault("model.lstm_units", arch.LSTMUnits)
	v.SetDefault("model.dense_units", arch.DenseUnits)
	v.SetDefault("model.dropout", arch.Dropout)
	v.SetDefault("model.l2", arch.L2)

	v.SetDefault("artifacts.dir", ".")
	v.SetDefault("artifacts.model", "improved_emotion_recognition_model.gob")
	v.SetDefault("artifacts.checkpoint", "best_model.gob")
	v.SetDefault("artifacts.scaler", "feature_scaler.yaml")
	v.SetDefault("artifacts.encoder", "label_encoder.yaml")

	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.local_root", "./artifacts")
	v.SetDefault("storage.bucket", "emotion-models")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.key_id", "")
	v.SetDefault("storage.app_key", "")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.name", "emotion.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("server.addr", ":10000")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.from_store", false)
	v.SetDefault("server.run_id", "")
	v.SetDefault("server.cache_dir", "")

	v.SetDefault("log.level", "info")
}

// Load reads file (or config.yaml in . or ./config when file is empty)
// and decodes the merged settings. A missing default config file is not
// an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that are not validated downstream.
func (c *Config) Validate() error {
	if c.Dataset.Root == "" {
		return errors.New("dataset.root is empty")
	}
	switch c.Storage.Provider {
	case "none", "local", "s3":
	default:
		return errors.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Database.Driver {
	case "none", "sqlite", "postgres":
	default:
		return errors.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Train.TestSize <= 0 || c.Train.TestSize >= 1 {
		return errors.Errorf("train.test_size %v must be in (0, 1)", c.Train.TestSize)
	}
	return c.Features.Validate()
}

// BindFlags binds each config key to the named flag of cmd, so a flag set
// on the command line overrides file and environment values.
func BindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return errors.Errorf("no flag %q for key %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "binding %s", key)
		}
	}
	return nil
}
