// Package controller owns the lifecycle of generation jobs.
//
// A Controller submits requests through a core.Transport, records every job
// in a core.Repository, and drives one poller loop per in-flight job. It is
// the only writer of job state: poll results, cancellations and synthesized
// failures are applied one at a time under a single lock, and a job that has
// reached a terminal status is never modified again.
//
// UI collaborators either Subscribe to a single job, receiving an ordered
// stream of read-only snapshots, or read the Events channel for lifecycle
// events across all jobs.
package controller
