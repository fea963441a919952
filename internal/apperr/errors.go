// Package apperr defines the error taxonomy shared by the storage adapters,
// the ingest pipeline and the HTTP layer. Adapters wrap these sentinels with
// %w; callers match them with errors.Is.
package apperr

import "errors"

var (
	// ErrAuth means the credential exchange with the storage backend failed
	// or a fresh credential was still rejected.
	ErrAuth = errors.New("storage authentication failed")
	// ErrNotFound means a folder or file is absent (or the backend refused
	// to list it).
	ErrNotFound = errors.New("not found")
	// ErrTransport covers network failures and timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrConnectivity is returned once a bounded retry gives up on
	// transport failures.
	ErrConnectivity = errors.New("backend unreachable")
	// ErrConflict means the target name is already taken.
	ErrConflict = errors.New("conflict")
	// ErrParse covers malformed dates and CSV content.
	ErrParse = errors.New("parse error")
)
