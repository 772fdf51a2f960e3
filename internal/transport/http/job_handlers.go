package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

// JobHandlers provides HTTP handlers for booking endpoints.
type JobHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewJobHandlers creates a new job handlers instance.
func NewJobHandlers(st store.Store, logger *zerolog.Logger) *JobHandlers {
	return &JobHandlers{
		store: st,
		log:   logger,
	}
}

// RequireParticipant loads the job named by the :id parameter. Users outside
// the job get 404 so job ids cannot be probed.
func (h *JobHandlers) RequireParticipant(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, proto.CodeNotFound, "job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to load job")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	if !job.HasParticipant(currentUserID(c)) {
		abortWithError(c, http.StatusNotFound, proto.CodeNotFound, "job not found")
		return
	}
	c.Set(ContextKeyJob, job)
	c.Next()
}

// CreateJob books a photographer for the authenticated customer.
// POST /api/jobs
func (h *JobHandlers) CreateJob(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil || claims.Role != string(store.RoleCustomer) {
		abortWithError(c, http.StatusForbidden, proto.CodeBadRequest, "only customers can book photographers")
		return
	}

	var req proto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create job request")
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	photographer, err := h.store.GetUserByID(ctx, req.PhotographerID)
	if err != nil || photographer.Role != store.RolePhotographer {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.log.Error().Err(err).Msg("failed to load photographer")
			abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
			return
		}
		abortWithError(c, http.StatusBadRequest, proto.CodeBadRequest, "unknown photographer")
		return
	}

	job, err := h.store.CreateJob(ctx, store.NewJob{
		PhotographerID: photographer.ID,
		CustomerID:     claims.UserID(),
		EventType:      strings.TrimSpace(req.EventType),
		EventDate:      req.EventDate,
		Location:       strings.TrimSpace(req.Location),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create job")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}

	h.log.Info().Str("job_id", job.ID).Str("photographer_id", job.PhotographerID).Msg("job created")
	c.JSON(http.StatusCreated, jobToProto(*job))
}

// ListJobs returns the jobs the authenticated user takes part in.
// GET /api/jobs
func (h *JobHandlers) ListJobs(c *gin.Context) {
	jobs, err := h.store.ListJobsForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list jobs")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	c.JSON(http.StatusOK, jobsToProto(jobs))
}

// GetJob returns one job.
// GET /api/jobs/:id
func (h *JobHandlers) GetJob(c *gin.Context) {
	c.JSON(http.StatusOK, jobToProto(*currentJob(c)))
}

// AcceptJob lets the booked photographer accept a pending job.
// POST /api/jobs/:id/accept
func (h *JobHandlers) AcceptJob(c *gin.Context) {
	job := currentJob(c)
	if job.PhotographerID != currentUserID(c) {
		abortWithError(c, http.StatusForbidden, proto.CodeBadRequest, "only the booked photographer can accept")
		return
	}
	if !store.CanTransition(job.Status, store.JobAccepted) {
		abortWithError(c, http.StatusConflict, proto.CodeConflict, "job is "+string(job.Status))
		return
	}

	if err := h.store.UpdateJobStatus(c.Request.Context(), job.ID, store.JobAccepted); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to accept job")
		abortWithError(c, http.StatusInternalServerError, proto.CodeInternal, "internal server error")
		return
	}
	job.Status = store.JobAccepted

	h.log.Info().Str("job_id", job.ID).Msg("job accepted")
	c.JSON(http.StatusOK, jobToProto(*job))
}
