// Package store records training runs and served predictions with gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ieee0824/emotion-go/internal/config"
)

// ErrNoRun is returned when no finished training run exists.
var ErrNoRun = errors.New("no successful training run")

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TrainingRun is one invocation of the training pipeline.
type TrainingRun struct {
	ID           string `gorm:"primaryKey;size:36"`
	CreatedAt    time.Time
	FinishedAt   *time.Time
	Status       string `gorm:"size:16;index"`
	DatasetRoot  string
	NumSamples   int
	NumFeatures  int
	Distribution string
	Epochs       int
	BestEpoch    int
	StoppedEpoch int
	TestAccuracy float64
	ModelKey     string
	ScalerKey    string
	EncoderKey   string
	Error        string
}

// Prediction is one request served by /predict.
type Prediction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	Filename       string    `json:"filename"`
	ClaimedLabel   string    `gorm:"size:32" json:"real_emotion"`
	PredictedLabel string    `gorm:"size:32;index" json:"predicted_emotion"`
	Confidence     float64   `json:"confidence"`
	Correct        bool      `json:"correct"`
	DurationMS     int64     `json:"duration_ms"`
}

// Store wraps a gorm connection.
type Store struct {
	DB *gorm.DB
}

// Open connects with the configured driver and migrates the schema.
// Driver "none" is rejected; callers skip the store in that case.
func Open(cfg config.Database, log logrus.FieldLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Name)
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Driver)
	}
	if cfg.Driver == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	s := &Store{DB: db}
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.Driver).Debug("database connected")
	return s, nil
}

// AutoMigrate creates or updates the tables.
func (s *Store) AutoMigrate() error {
	if err := s.DB.AutoMigrate(&TrainingRun{}, &Prediction{}); err != nil {
		return errors.Wrap(err, "migrating schema")
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *TrainingRun) error {
	return errors.Wrap(s.DB.WithContext(ctx).Create(run).Error, "creating run")
}

// SaveRun updates every column of run.
func (s *Store) SaveRun(ctx context.Context, run *TrainingRun) error {
	return errors.Wrap(s.DB.WithContext(ctx).Save(run).Error, "saving run")
}

// Run returns the run with the given id.
func (s *Store) Run(ctx context.Context, id string) (*TrainingRun, error) {
	var run TrainingRun
	if err := s.DB.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "run %s", id)
	}
	return &run, nil
}

// LatestRun returns the most recent successful run.
func (s *Store) LatestRun(ctx context.Context) (*TrainingRun, error) {
	var run TrainingRun
	err := s.DB.WithContext(ctx).
		Where("status = ?", StatusSucceeded).
		Order("created_at desc").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest run")
	}
	return &run, nil
}

// RecordPrediction inserts p.
func (s *Store) RecordPrediction(ctx context.Context, p *Prediction) error {
	return errors.Wrap(s.DB.WithContext(ctx).Create(p).Error, "recording prediction")
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	var out []Prediction
	err := s.DB.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing predictions")
	}
	return out, nil
}
