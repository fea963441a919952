// Package ingest turns one survey submission into an individual CSV upload
// and a master file update.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/csvtable"
	"github.com/starford/surveybox/internal/directory"
	"github.com/starford/surveybox/internal/master"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/models"
	"github.com/starford/surveybox/internal/storage"
)

// DefaultStudyType is used when neither the submission nor the
// configuration names one.
const DefaultStudyType = "survey"

const unknownParticipant = "unknown"

// StepStatus is the outcome of one sub-operation.
type StepStatus string

const (
	StepSkipped StepStatus = "skipped"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
)

// StepResult describes one sub-operation. Err is kept for logging and
// status mapping and never serialised.
type StepResult struct {
	Status StepStatus `json:"status"`
	Name   string     `json:"name,omitempty"`
	FileID string     `json:"file_id,omitempty"`
	Err    error      `json:"-"`
}

// Result is the outcome of one submission.
type Result struct {
	FolderID   string          `json:"folder_id"`
	Date       string          `json:"date"`
	Individual StepResult      `json:"individual"`
	Master     StepResult      `json:"master"`
	Outcome    *master.Outcome `json:"master_outcome,omitempty"`
	Succeeded  int             `json:"succeeded"`
}

// OK reports whether at least one sub-operation succeeded.
func (r *Result) OK() bool {
	return r.Succeeded > 0
}

// Unreachable reports whether a failed step gave up on connectivity.
func (r *Result) Unreachable() bool {
	return errors.Is(r.Individual.Err, apperr.ErrConnectivity) || errors.Is(r.Master.Err, apperr.ErrConnectivity)
}

// Pipeline runs submissions. It is safe for concurrent use; invocations
// share nothing but the storage backend's credential cache.
type Pipeline struct {
	store     storage.Provider
	dir       *directory.Directory
	master    *master.Updater
	studyType string
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefaultStudyType sets the study type for submissions that omit it.
func WithDefaultStudyType(s string) Option {
	return func(p *Pipeline) {
		if s != "" {
			p.studyType = s
		}
	}
}

// WithLocation sets the zone used for dates without one and for "today".
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline.
func New(store storage.Provider, dir *directory.Directory, updater *master.Updater, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		dir:       dir,
		master:    updater,
		studyType: DefaultStudyType,
		loc:       time.UTC,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest stores sub. The individual file and the master file are attempted
// independently; the submission succeeds when at least one of them does.
// The returned error is non-nil only when the backend rejected our
// credentials (wrapping apperr.ErrAuth), in which case the remaining steps
// are not attempted.
func (p *Pipeline) Ingest(ctx context.Context, sub models.Submission) (*Result, error) {
	started := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(started).Seconds()) }()

	sub = sub.WithDefaults(p.studyType)
	source := SanitizeComponent(sub.Source)
	studyType := SanitizeComponent(sub.StudyType)
	log := p.logger.With(slog.String("source", source), slog.String("study_type", studyType))

	res := &Result{
		Individual: StepResult{Status: StepSkipped},
		Master:     StepResult{Status: StepSkipped},
	}

	folderID, err := p.dir.ResolveFolder(ctx, string(sub.FolderID))
	if err != nil {
		return res, fmt.Errorf("ingest: resolve folder: %w", err)
	}
	res.FolderID = folderID

	date := p.responseDate(log, sub.ResponseDate())
	res.Date = csvtable.FormatFileDate(date)

	groupRow, questionRow, dataRow := csvtable.ComputeRows(sub.FieldOrder, sub.GroupLabels, sub.QuestionLabels, sub.Values)

	participant := SanitizeComponent(sub.ParticipantID())
	if participant == "" {
		participant = unknownParticipant
	}
	base := fmt.Sprintf("%s_%s_%s_%s.csv", studyType, source, participant, res.Date)
	res.Individual = p.uploadIndividual(ctx, log, folderID, base, groupRow, questionRow, dataRow)
	recordStep("individual", res.Individual)
	if errors.Is(res.Individual.Err, apperr.ErrAuth) {
		return res, fmt.Errorf("ingest: individual upload: %w", res.Individual.Err)
	}

	if sub.MasterEnabled() {
		out, err := p.master.Update(ctx, master.Request{
			FolderID:    folderID,
			Source:      source,
			StudyType:   studyType,
			Date:        date,
			GroupRow:    groupRow,
			QuestionRow: questionRow,
			DataRow:     dataRow,
		})
		res.Outcome = out
		if err != nil {
			res.Master = StepResult{Status: StepFailed, Err: err}
			if out != nil {
				res.Master.Name, res.Master.FileID = out.Name, out.FileID
			}
			log.Error("master update failed", slog.String("error", err.Error()))
		} else {
			res.Master = StepResult{Status: StepOK, Name: out.Name, FileID: out.FileID}
		}
		recordStep("master", res.Master)
		if errors.Is(err, apperr.ErrAuth) {
			return res, fmt.Errorf("ingest: master update: %w", err)
		}
	}

	for _, s := range []StepResult{res.Individual, res.Master} {
		if s.Status == StepOK {
			res.Succeeded++
		}
	}
	log.Info("submission processed",
		slog.String("folder", folderID),
		slog.String("individual", string(res.Individual.Status)),
		slog.String("master", string(res.Master.Status)),
		slog.Int("succeeded", res.Succeeded))
	return res, nil
}

func (p *Pipeline) uploadIndividual(ctx context.Context, log *slog.Logger, folderID, base string, groupRow, questionRow, dataRow []string) StepResult {
	entries, err := p.dir.Snapshot(ctx, folderID)
	if err != nil {
		log.Error("individual upload: folder probe failed", slog.String("error", err.Error()))
		return StepResult{Status: StepFailed, Err: err}
	}
	name := directory.Allocate(base, entries)

	t := csvtable.New(groupRow, questionRow)
	t.Append(dataRow)
	content, err := t.Encode()
	if err != nil {
		return StepResult{Status: StepFailed, Name: name, Err: err}
	}

	id, err := p.store.Upload(ctx, folderID, name, content)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		log.Warn("individual upload: name already taken", slog.String("name", name))
		return StepResult{Status: StepFailed, Name: name, Err: err}
	case err != nil:
		log.Error("individual upload failed", slog.String("name", name), slog.String("error", err.Error()))
		return StepResult{Status: StepFailed, Name: name, Err: err}
	}
	log.Info("individual file uploaded", slog.String("name", name), slog.String("file_id", id))
	return StepResult{Status: StepOK, Name: name, FileID: id}
}

// responseDate parses raw in the pipeline's zone, falling back to today.
func (p *Pipeline) responseDate(log *slog.Logger, raw string) time.Time {
	d, err := csvtable.ParseResponseDate(raw, p.loc)
	if err != nil {
		log.Warn("response date unusable, using today", slog.String("raw", raw), slog.String("error", err.Error()))
		return p.now().In(p.loc)
	}
	return d
}

func recordStep(step string, s StepResult) {
	metrics.StepsTotal.WithLabelValues(step, string(s.Status)).Inc()
}

// SanitizeComponent makes s safe to embed in a file name: surrounding
// whitespace is trimmed and path separators become dashes.
func SanitizeComponent(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "-", `\`, "-").Replace(s)
}
