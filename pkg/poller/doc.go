// Package poller checks the status of in-flight generation jobs.
//
// A Poller runs one goroutine per job. Checks for a job never overlap: the
// next request is scheduled only after the previous one has settled. Each
// result is handed to a Handler as an Observation; the Poller itself keeps
// no job state and never writes to a repository.
package poller
