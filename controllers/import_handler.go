package controllers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"catalog-import-service/apperrors"
	"catalog-import-service/middleware"
	"catalog-import-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ImportHandler serves the catalog import API.
type ImportHandler struct {
	service   ImportServiceAPI
	jobs      JobQueueAPI
	validator *RequestValidator
	timeout   time.Duration
}

func NewImportHandler(svc ImportServiceAPI, jobs JobQueueAPI, v *RequestValidator) *ImportHandler {
	return &ImportHandler{
		service:   svc,
		jobs:      jobs,
		validator: v,
		timeout:   DefaultContextTimeout,
	}
}

// CreateImport stages the uploaded file and imports it, synchronously or via
// the job queue when async=true.
func (h *ImportHandler) CreateImport(c *gin.Context) {
	brand := middleware.Brand(c)
	var q ImportQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("Invalid query", err))
		return
	}
	fileName, data, err := h.validator.ReadUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.service.Active(brand) {
		apperrors.Respond(c, mapError(services.ErrImportInProgress))
		return
	}

	ctx := c.Request.Context()
	req, err := h.service.Stage(ctx, brand, fileName, data)
	if err != nil {
		zap.L().Error("Failed to stage import upload", zap.String("brand", brand), zap.Error(err))
		apperrors.Respond(c, mapError(err))
		return
	}
	req.DiscardPending = q.Discard

	if q.Async {
		h.enqueue(c, services.JobKindImport, req)
		return
	}

	summary, err := h.service.Import(ctx, req)
	if err != nil {
		zap.L().Error("Catalog import failed", zap.String("brand", brand), zap.Error(err))
		if summary != nil {
			c.JSON(mapError(err).Code, gin.H{"error": err.Error(), "summary": summary})
			return
		}
		apperrors.Respond(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ValidateImport is a dry run: parse, group and classify without writes.
func (h *ImportHandler) ValidateImport(c *gin.Context) {
	fileName, data, err := h.validator.ReadUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	validation, err := h.service.Validate(ctx, middleware.Brand(c), fileName, data)
	if err != nil {
		zap.L().Error("Import validation failed", zap.Error(err))
		apperrors.Respond(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, validation)
}

// GetTemplate downloads an empty import template with two example rows.
func (h *ImportHandler) GetTemplate(c *gin.Context) {
	var q TemplateQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("Invalid template format", err))
		return
	}

	var buf bytes.Buffer
	if strings.EqualFold(q.Format, "xlsx") {
		if err := services.WriteXLSXTemplate(&buf); err != nil {
			apperrors.Respond(c, apperrors.Internal("Failed to build template", err))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="catalog_import_template.xlsx"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
		return
	}
	if err := services.WriteCSVTemplate(&buf); err != nil {
		apperrors.Respond(c, apperrors.Internal("Failed to build template", err))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="catalog_import_template.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// GetJobStatus returns the stored job metadata and result.
func (h *ImportHandler) GetJobStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job ID required"})
		return
	}
	if h.jobs == nil {
		apperrors.Respond(c, apperrors.New(http.StatusServiceUnavailable, "Async imports are disabled", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		apperrors.Respond(c, mapError(err))
		return
	}
	if job.Request.Brand != middleware.Brand(c) {
		apperrors.Respond(c, mapError(services.ErrJobNotFound))
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetResumable reports the brand's interrupted run, if it can be resumed.
func (h *ImportHandler) GetResumable(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	state, err := h.service.ResumableRun(ctx, middleware.Brand(c))
	if err != nil {
		apperrors.Respond(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, state)
}

// ResumeImport accepts the resume offer and continues the interrupted run.
func (h *ImportHandler) ResumeImport(c *gin.Context) {
	brand := middleware.Brand(c)
	var q ImportQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		apperrors.Respond(c, apperrors.BadRequest("Invalid query", err))
		return
	}

	if q.Async {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()
		state, err := h.service.ResumableRun(ctx, brand)
		if err != nil {
			apperrors.Respond(c, mapError(err))
			return
		}
		h.enqueue(c, services.JobKindResume, services.ImportRequest{
			Brand:     brand,
			FileName:  state.FileName,
			UploadID:  state.UploadID,
			UploadKey: state.UploadKey,
		})
		return
	}

	summary, err := h.service.Resume(c.Request.Context(), brand)
	if err != nil {
		if summary != nil {
			c.JSON(mapError(err).Code, gin.H{"error": err.Error(), "summary": summary})
			return
		}
		apperrors.Respond(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CancelImport stops the active run or discards an interrupted one.
func (h *ImportHandler) CancelImport(c *gin.Context) {
	brand := middleware.Brand(c)
	active := h.service.Active(brand)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.service.Cancel(ctx, brand); err != nil {
		apperrors.Respond(c, mapError(err))
		return
	}
	if active {
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "discarded"})
}

// DeleteCatalog removes all products and variants of the brand.
func (h *ImportHandler) DeleteCatalog(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	n, err := h.service.DeleteCatalog(ctx, middleware.Brand(c))
	if err != nil {
		zap.L().Error("Failed to delete catalog", zap.Error(err))
		apperrors.Respond(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *ImportHandler) enqueue(c *gin.Context, kind string, req services.ImportRequest) {
	if h.jobs == nil {
		apperrors.Respond(c, apperrors.New(http.StatusServiceUnavailable, "Async imports are disabled", nil))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	job, err := h.jobs.Enqueue(ctx, kind, req)
	if err != nil {
		zap.L().Error("Failed to enqueue import job", zap.Error(err))
		apperrors.Respond(c, apperrors.Internal("Failed to queue import job", err))
		return
	}
	zap.L().Info("Import job queued", zap.String("job_id", job.ID), zap.String("kind", kind), zap.String("brand", req.Brand))
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":    job.ID,
		"upload_id": req.UploadID,
		"message":   "Import queued for processing",
	})
}

// mapError translates service errors into HTTP errors.
func mapError(err error) *apperrors.Error {
	var pe *services.ParseError
	switch {
	case errors.As(err, &pe):
		return apperrors.New(http.StatusUnprocessableEntity, "File could not be parsed", err)
	case errors.Is(err, services.ErrUnsupportedFormat):
		return apperrors.BadRequest("Unsupported file format", err)
	case errors.Is(err, services.ErrImportInProgress):
		return apperrors.Conflict("An import is already running for this brand", nil)
	case errors.Is(err, services.ErrResumableRunPending):
		return apperrors.Conflict("An interrupted import can be resumed; resume it or retry with discard=true", nil)
	case errors.Is(err, services.ErrNoResumableRun):
		return apperrors.NotFound("No resumable import", nil)
	case errors.Is(err, services.ErrJobNotFound):
		return apperrors.NotFound("Job not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(http.StatusServiceUnavailable, "Import interrupted; it can be resumed", err)
	default:
		return apperrors.Internal("Internal server error", err)
	}
}
