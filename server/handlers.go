package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/internal/store"
)

const (
	defaultHistory = 20
	maxHistory     = 200
)

// PredictResponse is the JSON body of a successful /predict call.
type PredictResponse struct {
	Success          bool               `json:"success"`
	PredictedEmotion string             `json:"predicted_emotion"`
	RealEmotion      string             `json:"real_emotion"`
	Confidence       float64            `json:"confidence"`
	Probabilities    map[string]float64 `json:"probabilities"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) fail(c *gin.Context, status int, reason string, err error) {
	s.metrics.ObserveError(reason)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("reason", reason).Error("prediction failed")
	}
	c.JSON(status, errorResponse{Success: false, Error: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "emotion"})
}

func (s *Server) labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": s.predictor.Labels()})
}

func (s *Server) predict(c *gin.Context) {
	start := time.Now()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, http.StatusRequestEntityTooLarge, "too_large", errors.New("upload too large"))
			return
		}
		s.fail(c, http.StatusBadRequest, "no_file", errors.New("no file uploaded"))
		return
	}
	defer file.Close()
	realEmotion := c.PostForm("emotion")

	tmp, err := os.CreateTemp(s.tempDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "temp_file", err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.fail(c, http.StatusBadRequest, "upload", errors.Wrap(err, "reading upload"))
		return
	}
	if err := tmp.Close(); err != nil {
		s.fail(c, http.StatusInternalServerError, "temp_file", err)
		return
	}

	ctx := c.Request.Context()
	pred, err := s.predictor.PredictFile(ctx, tmp.Name())
	if err != nil {
		if errors.Is(err, audio.ErrUndecodable) {
			s.fail(c, http.StatusBadRequest, "decode", errors.New("could not decode audio file"))
			return
		}
		s.fail(c, http.StatusInternalServerError, "predict", err)
		return
	}
	elapsed := time.Since(start)

	clipSeconds := 0.0
	if h, err := audio.ReadHeaderFile(tmp.Name()); err == nil {
		clipSeconds = h.Duration()
	}
	s.metrics.ObservePrediction(pred.Label, pred.Confidence, clipSeconds, elapsed)
	s.log.WithFields(logrus.Fields{
		"file":       header.Filename,
		"label":      realEmotion,
		"predicted":  pred.Label,
		"confidence": pred.Confidence,
	}).Info("prediction served")

	if s.store != nil {
		rec := &store.Prediction{
			Filename:       header.Filename,
			ClaimedLabel:   realEmotion,
			PredictedLabel: pred.Label,
			Confidence:     pred.Confidence,
			Correct:        realEmotion != "" && realEmotion == pred.Label,
			DurationMS:     elapsed.Milliseconds(),
		}
		if err := s.store.RecordPrediction(ctx, rec); err != nil {
			s.log.WithError(err).Warn("could not record prediction")
		}
	}

	c.JSON(http.StatusOK, PredictResponse{
		Success:          true,
		PredictedEmotion: pred.Label,
		RealEmotion:      realEmotion,
		Confidence:       pred.Confidence,
		Probabilities:    pred.Probabilities,
	})
}

func (s *Server) recentPredictions(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "prediction history is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistory)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	preds, err := s.store.RecentPredictions(c.Request.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("listing predictions")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds, "count": len(preds)})
}
