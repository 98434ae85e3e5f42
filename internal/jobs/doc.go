/*
Package jobs is the job queue of the pipeline.

Every job name belongs to exactly one queue (see names.go) and has a Go
payload type (see job.go), so a job is queued by value:

	err := manager.Queue(ctx, jobs.GenerateJPEGThumbnail{ID: asset.ID})

Queue returns once the job is in the Store. Identical jobs already waiting
are not stored twice.

# Handlers

Handlers are registered with the generic Handle function and the registry
is verified at Start: each declared job name needs exactly one handler.

	reg := jobs.NewRegistry()
	jobs.Handle(reg, media.HandleGenerateJPEGThumbnail)

A handler returns nil on success, an error wrapping ErrSkipped (see Skip)
when there was nothing to do, an error marked with Permanent for failures
that retrying cannot fix, or any other error to be retried with exponential
backoff until Options.Attempts is reached. Hooks added with OnComplete run
after successful jobs only and typically queue follow-up work.

# Dispatching

Each queue has a dispatcher goroutine that claims jobs from the store while
its limiter has room. SetConcurrency resizes the limiter; Pause and Resume
are stored so that every process sharing the store honors them. Running
jobs are never cancelled: Empty removes waiting jobs only and Stop waits for
in-flight jobs up to its context deadline.

# Leases

A claimed job is leased to the manager's Options.WorkerID for
Options.Lease and renewed while it runs. Only the lease holder can
complete, retry or fail it. Start requeues the jobs this worker id left
active; other jobs go back to waiting only once their lease has expired,
so starting a second process on a shared store never re-runs work a live
process holds.
*/
package jobs
