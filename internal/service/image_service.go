package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"persona/backend/ai"
	"persona/backend/internal/ledger"
	"persona/backend/internal/models"
	"persona/backend/internal/repository"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/metrics"

	"github.com/google/uuid"
)

// reapBatch bounds how many stale jobs one reaper run fails
const reapBatch = 100

// ImageService delegates persona artwork to the task platform
type ImageService struct {
	jobs     repository.ImageRepository
	personas repository.PersonaRepository
	ledger   *ledger.Ledger
	tasks    ai.TaskClient
	cost     int
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Logger
}

func NewImageService(jobs repository.ImageRepository, personas repository.PersonaRepository, l *ledger.Ledger, tasks ai.TaskClient, cost int, timeout time.Duration, log *logger.Logger) *ImageService {
	return &ImageService{
		jobs:     jobs,
		personas: personas,
		ledger:   l,
		tasks:    tasks,
		cost:     cost,
		timeout:  timeout,
		now:      time.Now,
		log:      log.WithComponent("image_service"),
	}
}

// RequestImage charges the image cost and submits a job. Nothing is
// submitted when the balance cannot pay; a failed submission is refunded.
func (s *ImageService) RequestImage(ctx context.Context, userID string, personaID uuid.UUID, prompt string) (job *models.ImageJob, err error) {
	ctx, span := tracer.Start(ctx, "image.request")
	defer func() { endSpan(span, err) }()

	persona, err := s.personas.Get(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}

	spent, err := s.ledger.Spend(ctx, userID, s.cost)
	if err != nil {
		return nil, err
	}
	if !spent.Success {
		return nil, ledger.ErrInsufficientTokens
	}

	job = &models.ImageJob{
		UserID:    userID,
		PersonaID: personaID,
		Prompt:    strings.TrimSpace(prompt),
		Cost:      s.cost,
		Status:    models.ImageStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.refund(ctx, userID, s.cost, "image job not stored")
		return nil, fmt.Errorf("create image job: %w", err)
	}

	task := ai.ImageTask{JobID: job.ID, Prompt: job.Prompt}
	if persona.CurrentVersion != nil {
		task.PersonaName = persona.CurrentVersion.Name
	}
	externalID, err := s.tasks.SubmitImage(ctx, task)
	if err != nil {
		s.fail(ctx, job.ID, "submission failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	if err := s.jobs.MarkSubmitted(ctx, job.ID, externalID); err != nil {
		s.log.LogError(err, "Failed to record task id", "job_id", job.ID, "external_id", externalID)
	}
	job.ExternalID = externalID
	s.log.Info("Image job submitted", "job_id", job.ID, "external_id", externalID, "persona_id", personaID)
	return job, nil
}

// CompleteImage records the task platform's result. Completing a job that
// is no longer pending returns it unchanged. A callback naming another
// task than the one recorded for the job is rejected.
func (s *ImageService) CompleteImage(ctx context.Context, jobID uuid.UUID, externalID, imageURL, errMsg string) (*models.ImageJob, error) {
	status := models.ImageStatusSucceeded
	switch {
	case errMsg != "":
		status = models.ImageStatusFailed
	case imageURL == "":
		return nil, apperrors.Validationf("either image_url or error is required")
	}

	job, changed, err := s.jobs.Complete(ctx, jobID, strings.TrimSpace(externalID), status, imageURL, errMsg)
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, nil
	}

	metrics.ImageJobs.WithLabelValues(status).Inc()
	if status == models.ImageStatusFailed {
		s.refund(ctx, job.UserID, job.Cost, "image generation failed")
	}
	return job, nil
}

func (s *ImageService) ListImages(ctx context.Context, userID string, personaID uuid.UUID) ([]models.ImageJob, error) {
	if _, err := s.personas.Get(ctx, userID, personaID); err != nil {
		return nil, err
	}
	return s.jobs.ListByPersona(ctx, userID, personaID)
}

// ReapStale fails and refunds jobs the task platform never answered
func (s *ImageService) ReapStale(ctx context.Context) (int, error) {
	stale, err := s.jobs.ListStale(ctx, s.now().Add(-s.timeout), reapBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale image jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		if s.fail(ctx, job.ID, "timed out") {
			reaped++
		}
	}
	if reaped > 0 {
		s.log.Info("Stale image jobs failed", "count", reaped)
	}
	return reaped, nil
}

// fail moves a pending job to failed and refunds it; it reports whether this call did so
func (s *ImageService) fail(ctx context.Context, jobID uuid.UUID, reason string) bool {
	job, changed, err := s.jobs.Complete(ctx, jobID, "", models.ImageStatusFailed, "", reason)
	if err != nil {
		s.log.LogError(err, "Failed to mark image job failed", "job_id", jobID)
		return false
	}
	if !changed {
		return false
	}
	metrics.ImageJobs.WithLabelValues(models.ImageStatusFailed).Inc()
	s.refund(ctx, job.UserID, job.Cost, "image job "+reason)
	return true
}

func (s *ImageService) refund(ctx context.Context, userID string, amount int, reason string) {
	if amount <= 0 {
		return
	}
	if _, err := s.ledger.Grant(ctx, userID, amount, reason); err != nil {
		s.log.LogError(err, "Refund failed", "user_id", userID, "amount", amount, "reason", reason)
	}
}
