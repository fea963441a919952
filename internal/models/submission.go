// Package models defines the domain types for surveybox.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Well-known keys inside the response map.
const (
	ParticipantKey = "participantID"
	DateKey        = "date"
)

// Submission is one webhook delivery. It is decoded once per request and
// never mutated afterwards, except for WithDefaults which returns a copy.
type Submission struct {
	SharedSecret   string     `json:"token"`
	FolderID       FlexString `json:"box_folder_id"`
	Source         string     `json:"source"`
	StudyType      string     `json:"study_type"`
	FieldOrder     []string   `json:"order"`
	GroupLabels    StringMap  `json:"groupings"`
	QuestionLabels StringMap  `json:"questions"`
	Values         StringMap  `json:"response"`
	Master         *bool      `json:"master"`
}

// Validate checks the fields the pipeline cannot default.
func (s *Submission) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Source, validation.Required),
		validation.Field(&s.FieldOrder, validation.Required, validation.Length(1, 0)),
	)
}

// WithDefaults returns a copy with an empty study type replaced.
func (s Submission) WithDefaults(studyType string) Submission {
	if strings.TrimSpace(s.StudyType) == "" {
		s.StudyType = studyType
	}
	return s
}

// MasterEnabled reports whether the master file should be updated.
// Absent means true.
func (s *Submission) MasterEnabled() bool {
	return s.Master == nil || *s.Master
}

// ResponseDate returns the raw response date, if any.
func (s *Submission) ResponseDate() string {
	return s.Values[DateKey]
}

// ParticipantID returns the participant identifier, if any.
func (s *Submission) ParticipantID() string {
	return s.Values[ParticipantKey]
}

// StringMap is a string-to-string map that accepts any JSON scalar as a
// value. Strings are kept, numbers keep their literal text, booleans become
// "true"/"false" and null becomes "". Arrays and objects are kept as compact
// JSON.
type StringMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *StringMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		s, err := rawToString(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = s
	}
	*m = out
	return nil
}

// FlexString accepts either a JSON string or a JSON number. Box folder ids
// are numeric strings and some survey tools send them unquoted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	s, err := rawToString(data)
	if err != nil {
		return err
	}
	*f = FlexString(strings.TrimSpace(s))
	return nil
}

func rawToString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		// numbers and booleans keep their literal text
		if !json.Valid(v) {
			return "", fmt.Errorf("invalid JSON value %q", v)
		}
		return string(v), nil
	}
}
