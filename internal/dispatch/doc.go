// Package dispatch hosts job execution on this node.
//
// The dispatcher polls the job store for QUEUED jobs and runs each one through
// job.Process with the task registered for its type. Workers claim jobs with
// an atomic QUEUED to STARTING update, so several workers (or several
// processes sharing the database) never run the same job twice.
//
// Failure handling:
//   - No task registered for the job type → FAILED with job_error_failed
//   - Task error or panic → FAILED, recorded by the task or by job.Process
//   - Claim lost to another worker → skipped silently
//
// Jobs are not retried; a FAILED job is rerun with an explicit reset.
package dispatch
