package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/services"
)

type ImportHandler struct {
	imports *services.ImportService
	logger  *logrus.Logger
}

func NewImportHandler(imports *services.ImportService, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		imports: imports,
		logger:  logger,
	}
}

// Upload accepts a multipart CSV in the "file" field and queues its import.
func (h *ImportHandler) Upload(c *gin.Context) {
	upload, err := c.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			h.logger.WithError(err).Warn("Unreadable upload")
		}
		respondError(c, h.logger, apperrors.NewValidation("No file provided"))
		return
	}

	accepted, err := h.imports.Upload(c.Request.Context(), upload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":    accepted.JobID,
		"file_name": accepted.FileName,
		"file_size": accepted.FileSize,
	}).Info("CSV import queued")

	c.JSON(http.StatusCreated, accepted)
}

func (h *ImportHandler) Status(c *gin.Context) {
	jobID, ok := pathID(c, "job_id")
	if !ok {
		return
	}

	snapshot, err := h.imports.Status(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
