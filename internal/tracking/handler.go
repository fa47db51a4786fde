package tracking

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vitiligo-backend/internal/shared/server/middleware"
	"vitiligo-backend/internal/shared/server/respond"
	"vitiligo-backend/internal/shared/telemetry"
)

const (
	docxContentType       = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	defaultMaxUploadBytes = 25 << 20
)

var errUploadTooLarge = errors.New("upload too large")

// Handler wires HTTP handlers to the tracking service.
type Handler struct {
	Svc               *Service
	MaxUploadBytes    int64
	ExposeDiagnostics bool
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxUploadBytes int64, exposeDiagnostics bool) *Handler {
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes, ExposeDiagnostics: exposeDiagnostics}
}

// RegisterRoutes attaches tracking routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tracking", h.track)
}

func (h *Handler) track(c *gin.Context) {
	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	before, err := readFormFile(c, "beforeImage")
	if err == nil {
		var after []byte
		after, err = readFormFile(c, "afterImage")
		if err == nil {
			h.run(c, AnalysisRequest{
				SubjectName:   strings.TrimSpace(c.PostForm("name")),
				SubjectAge:    strings.TrimSpace(c.PostForm("age")),
				SubjectGender: strings.TrimSpace(c.PostForm("gender")),
				IntervalWeeks: strings.TrimSpace(c.PostForm("weeks")),
				BeforeImage:   before,
				AfterImage:    after,
			})
			return
		}
	}
	if errors.Is(err, errUploadTooLarge) {
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("upload exceeds %d bytes", maxBytes), nil)
		return
	}
	respond.Error(c, http.StatusBadRequest, string(KindInvalidInput), "unable to read uploaded images", nil)
}

func (h *Handler) run(c *gin.Context, req AnalysisRequest) {
	requestID := middleware.RequestIDFromContext(c)
	ctx := WithRequestID(c.Request.Context(), requestID)
	sink := &responseSink{c: c}

	report, jobErr := h.Svc.Run(ctx, req, sink)
	if jobErr == nil {
		c.Set("runId", report.RunID)
		return
	}
	c.Set("runId", jobErr.RunID)

	if sink.began {
		// Headers and part of the body are already out; a second response is impossible.
		telemetry.Error("tracking.delivery_aborted", map[string]any{
			"run_id":     jobErr.RunID,
			"request_id": requestID,
			"written":    sink.written,
			"error":      jobErr,
		})
		c.Abort()
		return
	}

	details := gin.H{"runId": jobErr.RunID}
	if h.ExposeDiagnostics {
		if jobErr.ExitCode >= 0 {
			details["exitCode"] = jobErr.ExitCode
		}
		if jobErr.Diagnostic != "" {
			details["diagnostic"] = jobErr.Diagnostic
		}
		if jobErr.ParseError != "" {
			details["parseError"] = jobErr.ParseError
		}
	}
	respond.Error(c, StatusFor(jobErr.Kind), string(jobErr.Kind), jobErr.Message, details)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindWorkerUnavailable:
		return http.StatusServiceUnavailable
	case KindWorkerTimeout:
		return http.StatusGatewayTimeout
	case KindWorkerFailure, KindProtocolFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// readFormFile returns the uploaded file's bytes, or nil when the field is absent.
func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		if isTooLarge(err) {
			return nil, errUploadTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// responseSink streams a report straight into the HTTP response.
type responseSink struct {
	c       *gin.Context
	began   bool
	written int64
}

func (s *responseSink) Begin(downloadName string, size int64) {
	s.began = true
	h := s.c.Writer.Header()
	h.Set("Content-Type", docxContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	s.c.Status(http.StatusOK)
}

func (s *responseSink) Write(p []byte) (int, error) {
	n, err := s.c.Writer.Write(p)
	s.written += int64(n)
	return n, err
}
