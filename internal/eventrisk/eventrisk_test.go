package eventrisk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/eventrisk"
)

type fakeRep struct {
	positives int
	found     bool
	err       error
}

func (f fakeRep) Lookup(context.Context, string) (int, bool, error) {
	return f.positives, f.found, f.err
}

var noon = time.Date(2025, time.May, 5, 12, 0, 0, 0, time.UTC)

func officeHours() *baseline.UserBaseline {
	return &baseline.UserBaseline{
		ActorID:      "alice",
		ActiveWindow: &baseline.ClockWindow{Start: 9 * time.Hour, End: 17 * time.Hour},
	}
}

func newEvent(typ event.Type, name, mimeType string, at time.Time) *event.Event {
	return &event.Event{ID: "e1", ActorID: "alice", FileID: "f1", Type: typ, Timestamp: at, Name: name, MimeType: mimeType}
}

func TestUnknownTypeScoresZero(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), nil, nil)
	res := s.Score(context.Background(), newEvent(event.Type("file_teleported"), "a.exe", "", noon.Add(-10*time.Hour)), officeHours())
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Tags)
}

func TestBaseScoreWithoutBaseline(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), nil, nil)
	res := s.Score(context.Background(), newEvent(event.TypeMadePublic, "a.pdf", "application/pdf", noon.Add(-10*time.Hour)), nil)
	assert.Equal(t, 20.0, res.Score)
	assert.NotContains(t, res.Tags, eventrisk.TagOffHours)
}

func TestOffHoursMultiplier(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), nil, nil)

	res := s.Score(context.Background(), newEvent(event.TypeTrashed, "a.txt", "text/plain", noon.Add(-10*time.Hour)), officeHours())
	assert.Equal(t, 7.5, res.Score)
	assert.Contains(t, res.Tags, eventrisk.TagOffHours)

	res = s.Score(context.Background(), newEvent(event.TypeTrashed, "a.txt", "text/plain", noon), officeHours())
	assert.Equal(t, 5.0, res.Score)
}

func TestDominantPropertyWins(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), fakeRep{positives: 4, found: true}, nil)

	// Malware (25) beats suspicious extension (15) and mime mismatch.
	res := s.Score(context.Background(), newEvent(event.TypeCreated, "invoice.exe", "application/pdf", noon), officeHours())
	assert.Equal(t, 25.0, res.Score)
	assert.Equal(t, []string{eventrisk.TagKnownMalware}, res.Tags)
	assert.Equal(t, 4, res.Positives)

	clean := eventrisk.New(eventrisk.DefaultConfig(), fakeRep{found: true}, nil)
	res = clean.Score(context.Background(), newEvent(event.TypeCopied, "tool.PS1", "text/plain", noon), officeHours())
	assert.Equal(t, 15.0, res.Score)
	assert.Equal(t, []string{eventrisk.TagSuspiciousExtension}, res.Tags)

	res = clean.Score(context.Background(), newEvent(event.TypeCreated, "report.pdf", "image/png", noon), officeHours())
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, []string{eventrisk.TagMimeMismatch}, res.Tags)

	res = clean.Score(context.Background(), newEvent(event.TypeCreated, "report.pdf", "application/pdf; charset=binary", noon), officeHours())
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Tags)
}

func TestPropertiesOnlyForCreateAndCopy(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), fakeRep{positives: 9, found: true}, nil)
	res := s.Score(context.Background(), newEvent(event.TypeModified, "x.exe", "", noon), nil)
	assert.Equal(t, 2.0, res.Score)

	missingFile := newEvent(event.TypeCreated, "x.exe", "", noon)
	missingFile.FileID = ""
	res = s.Score(context.Background(), missingFile, nil)
	assert.Equal(t, 1.0, res.Score)
}

func TestReputationFailureDegrades(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), fakeRep{err: errors.New("timeout")}, nil)
	res := s.Score(context.Background(), newEvent(event.TypeCreated, "a.txt", "text/plain", noon), nil)
	assert.Equal(t, 1.0, res.Score)
	assert.Contains(t, res.Reasons, "ER: reputation lookup unavailable")
}

func TestPropertyThenMultiplier(t *testing.T) {
	s := eventrisk.New(eventrisk.DefaultConfig(), nil, nil)
	res := s.Score(context.Background(), newEvent(event.TypeCreated, "run.bat", "", noon.Add(9*time.Hour)), officeHours())
	assert.Equal(t, 22.5, res.Score)
	assert.Equal(t, []string{eventrisk.TagSuspiciousExtension, eventrisk.TagOffHours}, res.Tags)
}
