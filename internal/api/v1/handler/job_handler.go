package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pdf2audio/internal/api/v1/dto"
	"pdf2audio/internal/apperr"
	"pdf2audio/internal/middleware"
	"pdf2audio/internal/model"
	"pdf2audio/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxUploadBytes bounds how much of a multipart upload is buffered in memory.
const maxUploadBytes = 64 << 20

// JobHandler handles conversion job endpoints
type JobHandler struct {
	jobService service.JobService
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService service.JobService, validate *validator.Validate, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		validate:   validate,
		logger:     logger.With().Str("handler", "JobHandler").Logger(),
	}
}

// RegisterRoutes mounts job routes under /jobs
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/jobs", authMw(http.HandlerFunc(h.handleJobs)))
	mux.Handle("/jobs/", authMw(http.HandlerFunc(h.getJob)))
}

func (h *JobHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createJob(w, r)
	case http.MethodGet:
		h.listJobs(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// createJob accepts a multipart form with a "file" part holding the PDF and
// an "options" part holding the conversion options as JSON.
func (h *JobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	pdfData, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	var optsDTO dto.JobOptionsDTO
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &optsDTO); err != nil {
			http.Error(w, "Invalid options payload: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.validate.Struct(&optsDTO); err != nil {
		http.Error(w, "Invalid options: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := model.JobOptions{
		VoiceProvider:  model.VoiceProvider(optsDTO.VoiceProvider),
		VoiceType:      optsDTO.VoiceType,
		ReadingSpeed:   optsDTO.ReadingSpeed,
		IncludeSummary: optsDTO.IncludeSummary,
		ConversionMode: model.ConversionMode(optsDTO.ConversionMode),
	}

	job, err := h.jobService.CreateJob(r.Context(), userID, header.Filename, pdfData, opts)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, apperr.ErrEntitlementDenied):
			http.Error(w, "Conversion limit reached. Upgrade your plan or purchase credits.", http.StatusPaymentRequired)
		default:
			h.logger.Error().Err(err).Msg("Failed to create job")
			http.Error(w, "Failed to create job", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(jobToDTO(job))
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	jobs, err := h.jobService.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := dto.JobListResponseDTO{Jobs: make([]dto.JobResponseDTO, 0, len(jobs)), Limit: limit, Offset: offset}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobToDTO(&jobs[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.NotFound(w, r)
		return
	}

	job, err := h.jobService.GetJob(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to retrieve job")
		http.Error(w, "Failed to retrieve job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobToDTO(job))
}

func jobToDTO(job *model.Job) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		JobID:            job.ID,
		OriginalFilename: job.OriginalFilename,
		Status:           string(job.Status),
		Progress:         job.Progress,
		AudioKey:         job.AudioKey,
		ErrorMessage:     job.ErrorMessage,
		VoiceProvider:    string(job.Options.VoiceProvider),
		VoiceType:        job.Options.VoiceType,
		ReadingSpeed:     job.Options.ReadingSpeed,
		IncludeSummary:   job.Options.IncludeSummary,
		ConversionMode:   string(job.Options.ConversionMode),
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
}
