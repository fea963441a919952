package api

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/ingest"
	"github.com/starford/surveybox/internal/journal"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/models"
	"github.com/starford/surveybox/internal/sse"
)

// Submission outcomes, used as metric labels and in the journal.
const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

// Ingester runs one submission. *ingest.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, sub models.Submission) (*ingest.Result, error)
}

// Publisher broadcasts events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
}

// Service coordinates the ingest pipeline with the journal and the event
// stream for the HTTP layer.
type Service struct {
	ingester Ingester
	journal  journal.Store
	events   Publisher
	secret   []byte
	logger   *slog.Logger
}

// NewService creates a Service. journal and events may be nil.
func NewService(ingester Ingester, j journal.Store, events Publisher, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ingester: ingester, journal: j, events: events, secret: []byte(secret), logger: logger}
}

// Authorized reports whether token matches the shared webhook secret.
func (s *Service) Authorized(token string) bool {
	if len(s.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), s.secret) == 1
}

// Submit ingests sub, then records and broadcasts the result. checksum
// fingerprints the raw payload for redelivery detection.
func (s *Service) Submit(ctx context.Context, sub models.Submission, checksum string) (*ingest.Result, error) {
	res, err := s.ingester.Ingest(ctx, sub)
	outcome := classify(res, err)
	metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()

	entry := &journal.Entry{
		Source:      ingest.SanitizeComponent(sub.Source),
		StudyType:   ingest.SanitizeComponent(sub.StudyType),
		Participant: sub.ParticipantID(),
		Checksum:    checksum,
		Outcome:     outcome,
	}
	if res != nil {
		entry.FolderID = res.FolderID
		entry.IndividualName = res.Individual.Name
		entry.IndividualStatus = string(res.Individual.Status)
		entry.MasterName = res.Master.Name
		entry.MasterStatus = string(res.Master.Status)
		entry.Succeeded = res.Succeeded
	}

	if s.journal != nil {
		if jerr := s.journal.Record(ctx, entry); jerr != nil {
			s.logger.Error("journal record failed", slog.String("error", jerr.Error()))
		} else if entry.Redelivery {
			s.logger.Warn("submission payload seen before", slog.String("checksum", checksum), slog.String("source", entry.Source))
		}
	}
	if s.events != nil {
		s.events.Publish(sse.Event{Type: sse.EventIngested, Source: entry.Source, Data: entry})
	}
	return res, err
}

// Recent lists journal entries. It returns apperr.ErrNotFound when the
// journal is disabled.
func (s *Service) Recent(ctx context.Context, limit int, source string) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, apperr.ErrNotFound
	}
	return s.journal.Recent(ctx, limit, source)
}

func classify(res *ingest.Result, err error) string {
	if err != nil || res == nil || !res.OK() {
		return OutcomeFailed
	}
	attempted := 0
	for _, st := range []ingest.StepStatus{res.Individual.Status, res.Master.Status} {
		if st != ingest.StepSkipped {
			attempted++
		}
	}
	if res.Succeeded < attempted {
		return OutcomePartial
	}
	return OutcomeSuccess
}
