// Package core provides the fundamental types and interfaces for the genjobs package.
//
// This package contains:
//   - Job, Snapshot and Variant data models
//   - Request payloads for generation, refinement and subject-line jobs
//   - Transport and Repository interfaces defining the collaborator contracts
//   - Event types for job lifecycle monitoring
//   - Error types for submission, polling and transport failures
//
// Most users should import the root package github.com/jdziat/campaign-genjobs
// instead of this package directly.
package core
