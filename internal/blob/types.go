// Package blob exposes the export sink abstraction and selects a backend.
package blob

import (
	"triagetree/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned by Put for a key that is already stored.
	ErrExists = core.ErrExists
	// ErrNotFound is returned for keys that are not stored.
	ErrNotFound = core.ErrNotFound
	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = core.ErrInvalidKey
)
