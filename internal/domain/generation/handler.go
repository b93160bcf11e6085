package generation

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clipcraft/clipcraft-api/internal/middleware"
	"github.com/clipcraft/clipcraft-api/internal/pkg/errorhandler"
	"github.com/clipcraft/clipcraft-api/internal/pkg/response"
	"github.com/clipcraft/clipcraft-api/internal/pkg/validator"
)

const maxRequestBytes = 20 << 20

// Handler serves generation jobs and the video gallery.
type Handler struct {
	service  *Service
	jobs     *JobTracker
	limiter  *middleware.RateLimiter
	upgrader websocket.Upgrader
}

func NewHandler(service *Service, jobs *JobTracker, limiter *middleware.RateLimiter, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		jobs:    jobs,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed || allowed == "*" {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

type imagePayload struct {
	Data     string `json:"data" validate:"required"`
	MimeType string `json:"mime_type" validate:"omitempty,max=64"`
	Filename string `json:"filename" validate:"max=255"`
}

type CreateGenerationRequest struct {
	Prompt      string        `json:"prompt" validate:"notblank,max=4000"`
	AspectRatio string        `json:"aspect_ratio" validate:"aspect_ratio"`
	Image       *imagePayload `json:"image"`
}

func (req *CreateGenerationRequest) toRequest() (Request, map[string]string) {
	out := Request{
		Prompt:          strings.TrimSpace(req.Prompt),
		AspectRatio:     req.AspectRatio,
		DurationSeconds: DefaultDurationSeconds,
	}
	if req.Image == nil {
		return out, nil
	}

	encoded := req.Image.Data
	mimeType := req.Image.MimeType
	// accept data URLs straight from a browser FileReader
	if strings.HasPrefix(encoded, "data:") {
		header, body, ok := strings.Cut(strings.TrimPrefix(encoded, "data:"), ",")
		if ok {
			encoded = body
			if mimeType == "" {
				mimeType = strings.TrimSuffix(header, ";base64")
			}
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) == 0 {
		return out, map[string]string{"image.data": "Invalid base64 data"}
	}

	out.Image = &SourceImage{Data: data, MimeType: mimeType, Filename: req.Image.Filename}
	return out, nil
}

// Create handles POST /generations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetUserID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var body CreateGenerationRequest
	if err := response.DecodeJSON(r.Body, &body); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&body); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	req, errs := body.toRequest()
	if errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	job := h.jobs.Start(r.Context(), accountID, req)

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		response.Accepted(w, job)
		return
	}

	h.waitForJob(w, r, job.ID)
}

// waitForJob blocks until the job is terminal or the client leaves; the job keeps running either way.
func (h *Handler) waitForJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	_, events, cancel, ok := h.jobs.Subscribe(id)
	if !ok {
		response.NotFound(w, "job not found")
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-events:
			if open {
				continue
			}
			job, _ := h.jobs.Get(id)
			if job.Status == JobFailed && job.Result != nil {
				h.writeFailure(w, r, job.Result)
				return
			}
			response.OK(w, job)
			return
		}
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, result *Result) {
	status := HTTPStatus(result.Kind)
	code := strings.ToUpper(string(result.Kind))
	if result.Kind == KindInsufficientCredits {
		code = "INSUFFICIENT_CREDITS"
	}
	var err error
	if result.Failure != nil {
		err = result.Failure
	}
	errorhandler.HandleError(r.Context(), w, status, code, result.Error, err)
}

// Get handles GET /generations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	response.OK(w, job)
}

// Providers handles GET /generations/providers
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"providers": h.service.Providers(),
		"cost":      h.service.Cost(),
	})
}

// ListVideos handles GET /videos
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetUserID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	videos, err := h.service.ListVideos(r.Context(), accountID, limit, offset)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
		return
	}

	response.WithMeta(w, videos, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(videos),
		HasNext: len(videos) == limit,
	})
}

func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request) (Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid job id")
		return Job{}, false
	}

	job, ok := h.jobs.Get(id)
	if !ok || job.AccountID != middleware.GetUserID(r.Context()) {
		response.NotFound(w, "job not found")
		return Job{}, false
	}
	return job, true
}

// Routes mounts the generation endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	create := http.Handler(http.HandlerFunc(h.Create))
	if h.limiter != nil {
		create = h.limiter.Middleware(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/providers", h.Providers)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/stream", h.Stream)
	return r
}

// VideoRoutes mounts the gallery.
func (h *Handler) VideoRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.ListVideos)
	return r
}
