package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/ingest"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type batchRequest struct {
	JobID        string       `json:"job_id" validate:"max=64"`
	Transactions []ingest.Row `json:"transactions" validate:"required,min=1,dive"`
}

// POST /api/v1/ingest/batch
func (s *Server) ingestBatch(c *gin.Context) {
	var req batchRequest
	if err := s.bind(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	job, err := s.jobs.Submit(c.Request.Context(), jobs.Request{
		JobID:  req.JobID,
		Kind:   store.JobIngestBatch,
		Params: jobs.Params{Rows: req.Transactions},
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.JobID})
}

// POST /api/v1/ingest/upload-csv
func (s *Server) uploadCSV(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, errors.Invalid.Explain("multipart field \"file\" is required"))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.writeError(c, errors.Invalid.Explain("Invalid file type. Please upload a CSV."))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.writeError(c, errors.Invalid.Explain("cannot read upload: %v", err))
		return
	}
	defer file.Close()

	parsed, err := ingest.ParseCSV(file)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(parsed.Rows) == 0 {
		s.writeError(c, ingest.ErrInvalidCSV.Explain("no valid rows (%d skipped)", parsed.Skipped))
		return
	}

	job, err := s.jobs.Submit(c.Request.Context(), jobs.Request{
		JobID:  c.PostForm("job_id"),
		Kind:   store.JobIngestBatch,
		Params: jobs.Params{Rows: parsed.Rows},
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("CSV upload accepted",
		zap.String("file", header.Filename),
		zap.String("job_id", job.JobID),
		zap.Int("rows", len(parsed.Rows)),
		zap.Int("skipped", parsed.Skipped))
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.JobID, "rows": len(parsed.Rows), "skipped": parsed.Skipped})
}

// POST /api/v1/ingest/clear-all-data, DELETE /api/v1/admin/data
func (s *Server) clearAllData(c *gin.Context) {
	if err := s.store.ClearAll(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Warn("All ledger, alert and job data cleared", zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"message": "All data cleared."})
}
