package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prepress/preflight/store"
)

func (s *Server) handleAnalyze(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		// A part uploaded with an empty filename lands in the form
		// values, not the file map.
		if form, ferr := c.MultipartForm(); ferr == nil && form != nil && len(form.Value["file"]) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part"})
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read file"})
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))

	ctx := c.Request.Context()
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	if s.cfg.Store != nil {
		if rec, err := s.cfg.Store.FindByChecksum(ctx, checksum); err == nil {
			if rep, err := rec.Report(); err == nil {
				s.metrics.cacheHits.Inc()
				s.metrics.analyses.WithLabelValues("cached").Inc()
				c.Header("X-Report-Id", rec.ID)
				c.JSON(http.StatusOK, rep)
				return
			}
		}
	}

	start := time.Now()
	rep := s.cfg.Analyzer.Analyze(ctx, bytes.NewReader(data))
	if s.cfg.Rules != nil {
		s.cfg.Rules.Apply(ctx, rep)
	}
	took := time.Since(start)
	s.metrics.duration.Observe(took.Seconds())
	s.metrics.analyses.WithLabelValues("analyzed").Inc()

	if s.cfg.Store != nil {
		rec, err := s.cfg.Store.Save(ctx, checksum, fh.Filename, int64(len(data)), took, rep)
		if err != nil {
			s.cfg.Logger.WithError(err).Warn("report not persisted")
		} else {
			c.Header("X-Report-Id", rec.ID)
		}
	}

	s.cfg.Logger.WithFields(logrus.Fields{
		"filename":   fh.Filename,
		"size":       len(data),
		"pages":      rep.Pages,
		"color_mode": rep.DocumentColorMode,
		"warnings":   len(rep.Warnings),
		"elapsed":    took.String(),
	}).Info("analyzed")

	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleGetReport(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	rec, err := s.cfg.Store.FindByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report lookup failed"})
		return
	}
	rep, err := rec.Report()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored report is unreadable"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
