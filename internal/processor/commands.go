package processor

import (
	"context"
	"errors"
	"fmt"

	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
)

// Command is an operator action on a queue.
type Command string

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandEmpty  Command = "empty"
)

// JobCommand is the body of a queue command.
type JobCommand struct {
	Command Command `json:"command"`
	Force   bool    `json:"force"`
}

var (
	// ErrUnknownCommand is returned for commands other than the four above.
	ErrUnknownCommand = errors.New("unknown job command")
	// ErrNotStartable is returned when starting a queue that has no
	// "queue everything" job.
	ErrNotStartable = errors.New("queue cannot be started")
)

// HandleCommand applies cmd to a queue and returns the queue's new status.
func (s *Service) HandleCommand(ctx context.Context, queue jobs.QueueName, cmd JobCommand) (jobs.QueueStatus, error) {
	var err error
	switch cmd.Command {
	case CommandStart:
		err = s.start(ctx, queue, cmd.Force)
	case CommandPause:
		err = s.jobs.Pause(ctx, queue)
	case CommandResume:
		err = s.jobs.Resume(ctx, queue)
	case CommandEmpty:
		var n int64
		if n, err = s.jobs.Empty(ctx, queue); err == nil {
			logging.Info("Removed %d waiting jobs from %s", n, queue)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	if err != nil {
		return jobs.QueueStatus{}, err
	}
	return s.jobs.GetJobCounts(ctx, queue)
}

func (s *Service) start(ctx context.Context, queue jobs.QueueName, force bool) error {
	active, err := s.jobs.IsActive(ctx, queue)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: %s", jobs.ErrAlreadyActive, queue)
	}

	var job jobs.Job
	switch queue {
	case jobs.QueueThumbnailGeneration:
		job = jobs.QueueAllThumbnails{Force: force}
	case jobs.QueueMetadataExtraction:
		job = jobs.QueueAllMetadataExtraction{Force: force}
	case jobs.QueueVideoConversion:
		job = jobs.QueueAllVideoConversion{Force: force}
	case jobs.QueueObjectTagging:
		job = jobs.QueueAllObjectTagging{Force: force}
	case jobs.QueueClipEncoding:
		job = jobs.QueueAllClipEncode{Force: force}
	case jobs.QueueRecognizeFaces:
		job = jobs.QueueAllRecognizeFaces{Force: force}
	case jobs.QueueSidecar:
		job = jobs.QueueAllSidecar{Force: force}
	case jobs.QueueMigration:
		job = jobs.QueueAllMigration{}
	case jobs.QueueStorageTemplate:
		job = jobs.QueueAllStorageTemplateMigration{}
	case jobs.QueueLibrary:
		return s.refreshLibraries(ctx, force)
	default:
		return fmt.Errorf("%w: %s", ErrNotStartable, queue)
	}
	logging.Info("Starting %s (force=%v)", queue, force)
	return s.jobs.Queue(ctx, job)
}

func (s *Service) refreshLibraries(ctx context.Context, force bool) error {
	if len(s.libraries) == 0 {
		return fmt.Errorf("%w: no libraries configured", ErrNotStartable)
	}
	batch := make([]jobs.Job, 0, len(s.libraries))
	for _, lib := range s.libraries {
		batch = append(batch, jobs.LibraryRefresh{OwnerID: lib.OwnerID, Path: lib.Path, Force: force})
	}
	return s.jobs.QueueAll(ctx, batch...)
}

// RefreshLibraries queues a scan of every configured library.
func (s *Service) RefreshLibraries(ctx context.Context) error {
	if len(s.libraries) == 0 {
		return nil
	}
	return s.refreshLibraries(ctx, false)
}

// AllJobsStatus returns the counts and paused state of every queue.
func (s *Service) AllJobsStatus(ctx context.Context) (map[jobs.QueueName]jobs.QueueStatus, error) {
	out := make(map[jobs.QueueName]jobs.QueueStatus, len(jobs.AllQueues))
	for _, q := range jobs.AllQueues {
		st, err := s.jobs.GetJobCounts(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", q, err)
		}
		out[q] = st
	}
	return out, nil
}
