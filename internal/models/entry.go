package models

import "time"

// EntryKind classifies a directory entry.
type EntryKind string

// Entry kinds. Box web links and anything else unknown map to KindOther.
const (
	KindFile   EntryKind = "file"
	KindFolder EntryKind = "folder"
	KindOther  EntryKind = "other"
)

// DirectoryEntry is a read-only projection of one child of a remote folder.
type DirectoryEntry struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
}

// IsFile reports whether the entry is a regular file.
func (e DirectoryEntry) IsFile() bool {
	return e.Kind == KindFile
}

// MasterFile describes the current master file for a (source, study type)
// pair. Date is only meaningful when DateOK is true.
type MasterFile struct {
	ID     string
	Name   string
	Date   time.Time
	DateOK bool
}
