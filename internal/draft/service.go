package draft

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// Service executes queued draft jobs. The worker consumes job IDs off the
// queue and hands each one here.
type Service struct {
	repo *roleplay.Repo
	sink events.Sink
	log  *logger.Logger

	maxAttempts int

	// overridable in tests so no real backend is dialed
	newCompleter func(settings *roleplay.GenerationSettings) Completer
}

func NewService(repo *roleplay.Repo, sink events.Sink, log *logger.Logger, maxAttempts int) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:         repo,
		sink:         sink,
		log:          log.With("component", "draft"),
		maxAttempts:  maxAttempts,
		newCompleter: NewBackendCompleter,
	}
}

// RunJob loads the job, runs the draft pipeline against the user's active
// connection and persists both the draft and the terminal job status. A
// validation failure is a failed job, but the partial draft is still saved
// so the user can inspect and resume it.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetDraftJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load draft job %s: %w", jobID, err)
	}
	if err := s.repo.MarkDraftJobRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("mark draft job running: %w", err)
	}

	result, runErr := s.run(ctx, job)
	if runErr != nil {
		s.log.Error("draft job failed", "job_id", job.ID, "err", runErr)
		_ = s.repo.MarkDraftJobFailed(ctx, job.ID, runErr.Error())
		return runErr
	}

	if !result.Success {
		msg := "draft failed validation"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Message
		}
		if err := s.repo.MarkDraftJobFailed(ctx, job.ID, msg); err != nil {
			return err
		}
		return nil
	}
	return s.repo.MarkDraftJobSucceeded(ctx, job.ID)
}

func (s *Service) run(ctx context.Context, job *roleplay.DraftJob) (*Result, error) {
	chat, err := s.repo.GetChatByChatID(ctx, job.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", job.ChatID, err)
	}
	settings, err := s.repo.ActiveGenerationSettings(ctx, job.UserID)
	if err != nil {
		return nil, err
	}

	md, mdErr := roleplay.DecodeChatMetadata(chat.Metadata)
	if mdErr != nil {
		s.log.Warn("malformed chat metadata, starting from empty draft", "chat_id", chat.ChatID, "err", mdErr)
	}
	current := roleplay.DraftState{}
	if md.Draft != nil {
		current = *md.Draft
	}

	var requested []string
	if len(job.RequestedFields) > 0 {
		if err := json.Unmarshal(job.RequestedFields, &requested); err != nil {
			s.log.Warn("malformed requested fields", "job_id", job.ID, "err", err)
		}
	}

	orch := NewOrchestrator(s.newCompleter(settings), s.sink, s.log, s.maxAttempts)
	result := orch.Run(ctx, "chat:"+chat.ChatID, current, job.Request, requested)

	md.Draft = &result.Draft
	raw, err := roleplay.EncodeChatMetadata(md)
	if err != nil {
		return nil, fmt.Errorf("encode chat metadata: %w", err)
	}
	if err := s.repo.UpdateChatMetadata(ctx, chat.ChatID, raw); err != nil {
		return nil, fmt.Errorf("persist draft: %w", err)
	}
	return &result, nil
}
