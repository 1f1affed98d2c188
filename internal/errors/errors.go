package errors

import "errors"

// Reconciliation errors.
var (
	ErrMalformedBatch = errors.New("change batch has no folders")
	ErrFolderNotFound = errors.New("folder not found")
	ErrFileNotFound   = errors.New("file not found")
)

// Preference errors.
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrInvalidName        = errors.New("invalid name")
)

// Server/transport errors.
var (
	ErrSnapshotRequest  = errors.New("snapshot request failed")
	ErrSnapshotResponse = errors.New("unexpected snapshot response")
	ErrPathNotAllowed   = errors.New("path escapes gallery root")
)
