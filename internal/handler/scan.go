package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/beacon/pipeline/internal/client"
	"github.com/beacon/pipeline/internal/middleware"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/service"
	"github.com/beacon/pipeline/pkg/response"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Presigner issues time-limited download links for stored objects.
type Presigner interface {
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type ScanHandler struct {
	service   *service.ScanService
	validator *validator.Validate
	presigner Presigner
	expiry    time.Duration
	log       *slog.Logger
}

// NewScanHandler returns a ScanHandler. presigner may be nil when storage is
// not configured.
func NewScanHandler(svc *service.ScanService, v *validator.Validate, presigner Presigner, expiry time.Duration, log *slog.Logger) *ScanHandler {
	return &ScanHandler{service: svc, validator: v, presigner: presigner, expiry: expiry, log: log}
}

// Submit handles POST /api/scans
func (h *ScanHandler) Submit(c *fiber.Ctx) error {
	var req model.ScanSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), &req, middleware.GetUserID(c))
	if err != nil {
		h.log.Error("scan submission failed", "url", req.URL, "error", err)
		if errors.Is(err, service.ErrScheduleFailed) {
			return response.Unavailable(c, "Failed to schedule scan")
		}
		return response.ServiceError(c, "Failed to schedule scan")
	}

	return response.Accepted(c, result)
}

// Status handles GET /jobs/:statusId/status. The body is null when the
// status is unknown or has expired.
func (h *ScanHandler) Status(c *fiber.Ctx) error {
	statusID := c.Params("statusId")
	if statusID == "" {
		return response.ValidationError(c, "Status ID is required", nil)
	}

	p, err := h.service.GetStatus(c.UserContext(), statusID)
	if err != nil {
		h.log.Error("status lookup failed", "status_id", statusID, "error", err)
		return response.Unavailable(c, "Status is temporarily unavailable")
	}
	return response.OK(c, p)
}

// Job handles GET /api/scans/:jobId
func (h *ScanHandler) Job(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("jobId"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	detail, err := h.service.GetJob(c.UserContext(), jobID)
	if errors.Is(err, service.ErrJobNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if err != nil {
		h.log.Error("job lookup failed", "job_id", jobID, "error", err)
		return response.ServiceError(c, "Failed to load job")
	}
	return response.OK(c, detail)
}

// Screenshot handles GET /api/screenshots/* by redirecting to a signed URL.
func (h *ScanHandler) Screenshot(c *fiber.Ctx) error {
	if h.presigner == nil {
		return response.Unavailable(c, "Storage is not configured")
	}
	key, ok := client.ScreenshotKey(c.Params("*"))
	if !ok {
		return response.ValidationError(c, "Invalid screenshot name", nil)
	}

	url, err := h.presigner.GetSignedURL(c.UserContext(), key, h.expiry)
	if err != nil {
		h.log.Error("presign failed", "key", key, "error", err)
		return response.ServiceError(c, "Failed to sign screenshot URL")
	}
	return response.Redirect(c, url)
}
