// Package repository provides Job Repository implementations.
//
// This package includes:
//   - MemoryRepository: the session-scoped client cache used by default
//   - GormRepository: a GORM-backed cache that survives restarts
//
// The Repository interface is defined in pkg/core. Only the job controller
// writes to a repository; everything else reads clones.
//
// Most users should import the root package github.com/jdziat/campaign-genjobs
// which provides NewMemoryRepository() and NewGormRepository().
package repository
