/*
Package processor implements the media pipeline jobs.

A Service owns one handler per job name; Register installs them on a
jobs.Registry and OnDone, installed with jobs.Manager.OnComplete, queues
the follow-up jobs that chain an upload through metadata extraction,
the storage template, thumbnails, machine learning and video conversion.

Handlers re-read their entity when they run. A vanished asset or person,
or an asset the job does not apply to, ends the job with jobs.Skip.
Invalid transcoding settings fail with jobs.Permanent; every other error
is retried by the queue.

Derived files are written to a temporary name next to their canonical
location and renamed into place before the database is updated, so a
stored path always refers to a complete file.

The Service also backs the admin API: Upload, Delete, HandleCommand and
AllJobsStatus.
*/
package processor
