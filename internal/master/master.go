// Package master maintains the per-(study type, source) master CSV file: an
// append-only aggregate named after the latest response date it holds.
//
// An update locates the current master by name prefix, downloads and merges
// it with the new row, writes it back under the same id and then renames it
// if the new response date is strictly later than the one in its name. The
// backend has no conditional writes, so two concurrent updates for the same
// master can both read the same content and the later write drops the
// other's row. No lock is taken here; serialising writers needs a
// single-writer queue in front of the pipeline.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/starford/surveybox/internal/csvtable"
	"github.com/starford/surveybox/internal/directory"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/models"
	"github.com/starford/surveybox/internal/storage"
)

const fileExt = ".csv"

// Prefix returns the name prefix shared by every master of a pair.
func Prefix(studyType, source string) string {
	return studyType + "_" + source + "_master_"
}

// FileName returns the master name carrying date.
func FileName(studyType, source string, date time.Time) string {
	return Prefix(studyType, source) + csvtable.FormatFileDate(date) + fileExt
}

// Request is one row to add to a master file. Source and StudyType must
// already be safe for use in file names.
type Request struct {
	FolderID    string
	Source      string
	StudyType   string
	Date        time.Time
	GroupRow    []string
	QuestionRow []string
	DataRow     []string
}

// Outcome reports what an update did.
type Outcome struct {
	FileID  string `json:"file_id"`
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Renamed bool   `json:"renamed"`
	// PriorRows counts the data rows carried over from the previous
	// content.
	PriorRows int `json:"prior_rows"`
	// DegradedRead is set when the previous content could not be
	// downloaded or parsed and the file was rewritten from scratch.
	DegradedRead bool `json:"degraded_read"`
}

// Updater runs master file updates against a storage backend.
type Updater struct {
	store  storage.Provider
	dir    *directory.Directory
	logger *slog.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(store storage.Provider, dir *directory.Directory, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: store, dir: dir, logger: logger}
}

// Update adds req's row to the master file in req.FolderID, creating the
// file when none exists. A non-nil error means the sub-operation failed;
// the returned Outcome may still describe the steps that completed.
func (u *Updater) Update(ctx context.Context, req Request) (*Outcome, error) {
	prefix := Prefix(req.StudyType, req.Source)
	candidate := FileName(req.StudyType, req.Source, req.Date)
	log := u.logger.With(slog.String("folder", req.FolderID), slog.String("prefix", prefix))

	current, err := u.locate(ctx, req.FolderID, prefix)
	if err != nil {
		return nil, fmt.Errorf("master: locate %s: %w", prefix, err)
	}
	if current == nil {
		return u.create(ctx, log, req, candidate)
	}
	return u.merge(ctx, log, req, *current, candidate)
}

// locate returns the first file in folderID whose name starts with prefix,
// or nil when there is none.
func (u *Updater) locate(ctx context.Context, folderID, prefix string) (*models.MasterFile, error) {
	entries, err := u.dir.Snapshot(ctx, folderID)
	if err != nil {
		return nil, err
	}
	e, ok := directory.FindByPrefix(entries, prefix)
	if !ok {
		return nil, nil
	}
	mf := &models.MasterFile{ID: e.ID, Name: e.Name}
	mf.Date, mf.DateOK = embeddedDate(e.Name, prefix)
	return mf, nil
}

func (u *Updater) create(ctx context.Context, log *slog.Logger, req Request, name string) (*Outcome, error) {
	t := csvtable.New(req.GroupRow, req.QuestionRow)
	t.Append(req.DataRow)
	content, err := t.Encode()
	if err != nil {
		return nil, fmt.Errorf("master: encode: %w", err)
	}

	id, err := u.store.Upload(ctx, req.FolderID, name, content)
	if err != nil {
		return nil, fmt.Errorf("master: create %s: %w", name, err)
	}
	log.Info("master file created", slog.String("name", name), slog.String("file_id", id))
	return &Outcome{FileID: id, Name: name, Created: true}, nil
}

func (u *Updater) merge(ctx context.Context, log *slog.Logger, req Request, current models.MasterFile, candidate string) (*Outcome, error) {
	out := &Outcome{FileID: current.ID, Name: current.Name}
	log = log.With(slog.String("file_id", current.ID), slog.String("name", current.Name))

	previous := u.readPrevious(ctx, log, current.ID, out)
	if len(previous) > 2 {
		out.PriorRows = len(previous) - 2
	}

	t := csvtable.Merge(previous, req.GroupRow, req.QuestionRow, req.DataRow)
	if len(previous) >= 2 && headersDrifted(previous, req.GroupRow, req.QuestionRow) {
		log.Warn("master headers replaced by current labels; earlier rows keep their original column positions")
	}
	content, err := t.Encode()
	if err != nil {
		return out, fmt.Errorf("master: encode: %w", err)
	}
	if err := u.store.UpdateContent(ctx, current.ID, current.Name, content); err != nil {
		return out, fmt.Errorf("master: update %s: %w", current.Name, err)
	}
	log.Info("master file updated", slog.Int("rows", t.Len()))

	if !shouldRename(current, req.Date) || candidate == current.Name {
		return out, nil
	}
	if err := u.store.Rename(ctx, current.ID, candidate); err != nil {
		return out, fmt.Errorf("master: rename %s to %s: %w", current.Name, candidate, err)
	}
	metrics.MasterRenamesTotal.Inc()
	log.Info("master file renamed", slog.String("new_name", candidate))
	out.Name = candidate
	out.Renamed = true
	return out, nil
}

// readPrevious downloads and decodes the current content. Any failure is
// logged and yields no rows, so the update proceeds with a fresh table.
func (u *Updater) readPrevious(ctx context.Context, log *slog.Logger, fileID string, out *Outcome) [][]string {
	raw, err := u.store.Download(ctx, fileID)
	if err != nil {
		log.Warn("master download failed, rewriting from scratch", slog.String("error", err.Error()))
		out.DegradedRead = true
		return nil
	}
	rows, err := csvtable.Decode(raw)
	if err != nil {
		log.Warn("master content unreadable, rewriting from scratch", slog.String("error", err.Error()))
		out.DegradedRead = true
		return nil
	}
	return rows
}

// embeddedDate extracts the MM-DD-YYYY date between prefix and the
// extension.
func embeddedDate(name, prefix string) (time.Time, bool) {
	rest := strings.TrimPrefix(name, prefix)
	rest = strings.TrimSuffix(rest, path.Ext(rest))
	d, err := csvtable.ParseFileDate(rest)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// shouldRename reports whether the master must take the name for newDate:
// only when newDate is a strictly later day, or the current name carries
// no readable date.
func shouldRename(current models.MasterFile, newDate time.Time) bool {
	if !current.DateOK {
		return true
	}
	return csvtable.DayOf(newDate).After(csvtable.DayOf(current.Date))
}

func headersDrifted(previous [][]string, groupRow, questionRow []string) bool {
	return !slices.Equal(previous[0], groupRow) || !slices.Equal(previous[1], questionRow)
}
