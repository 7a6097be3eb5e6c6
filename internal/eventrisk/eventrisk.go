// Package eventrisk scores a single event in isolation: a base score per
// event type, the dominant file property, and an off-hours multiplier.
package eventrisk

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/event"
)

const (
	TagOffHours            = "OFF_HOURS_ACTIVITY"
	TagKnownMalware        = "KNOWN_MALWARE"
	TagSuspiciousExtension = "SUSPICIOUS_EXTENSION"
	TagMimeMismatch        = "MIME_MISMATCH"
)

// Reputation looks up hash-reputation detections for a file.
type Reputation interface {
	Lookup(ctx context.Context, fileID string) (positives int, found bool, err error)
}

type Config struct {
	BaseScores               map[event.Type]float64
	KnownMalwareScore        float64
	SuspiciousExtensionScore float64
	MimeMismatchScore        float64
	OffHoursMultiplier       float64
	SuspiciousExtensions     []string
	// ExpectedMimeTypes maps a lower-case extension to its declared MIME type.
	ExpectedMimeTypes map[string]string
	WindowWraps       bool
	Location          *time.Location
}

func DefaultConfig() Config {
	return Config{
		BaseScores: map[event.Type]float64{
			event.TypeCreated:           1,
			event.TypeCopied:            2,
			event.TypeRenamed:           1,
			event.TypeMoved:             1,
			event.TypeModified:          2,
			event.TypeTrashed:           5,
			event.TypeDeletedPermanent:  1,
			event.TypeSharedExternally:  8,
			event.TypeMadePublic:        20,
			event.TypePermissionChanged: 1,
		},
		KnownMalwareScore:        25,
		SuspiciousExtensionScore: 15,
		MimeMismatchScore:        10,
		OffHoursMultiplier:       1.5,
		SuspiciousExtensions:     []string{".exe", ".bat", ".cmd", ".scr", ".ps1", ".vbs", ".jar", ".msi", ".dll"},
		ExpectedMimeTypes: map[string]string{
			".pdf":  "application/pdf",
			".txt":  "text/plain",
			".csv":  "text/csv",
			".zip":  "application/zip",
			".png":  "image/png",
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		},
		WindowWraps: true,
		Location:    time.UTC,
	}
}

type Result struct {
	Score   float64
	Reasons []string
	Tags    []string
	// Positives is the reputation detection count seen for the file, if any.
	Positives int
}

type Scorer struct {
	cfg        Config
	rep        Reputation
	suspicious map[string]struct{}
	logger     *slog.Logger
}

// New creates a Scorer. rep may be nil, in which case no file is treated as
// known malware.
func New(cfg Config, rep Reputation, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	suspicious := make(map[string]struct{}, len(cfg.SuspiciousExtensions))
	for _, ext := range cfg.SuspiciousExtensions {
		suspicious[normalizeExt(ext)] = struct{}{}
	}
	return &Scorer{cfg: cfg, rep: rep, suspicious: suspicious, logger: logger}
}

// Score computes the event risk for e. b may be nil.
func (s *Scorer) Score(ctx context.Context, e *event.Event, b *baseline.UserBaseline) Result {
	var res Result
	base := s.cfg.BaseScores[e.Type]
	res.Score = base
	if base == 0 {
		return res
	}
	res.Reasons = append(res.Reasons, fmt.Sprintf("ER: base score %.1f for %s", base, e.Type))

	if (e.Type == event.TypeCreated || e.Type == event.TypeCopied) && e.FileID != "" {
		if prop, tag, reason := s.dominantProperty(ctx, e, &res); prop > res.Score {
			res.Score = prop
			res.Tags = append(res.Tags, tag)
			res.Reasons = append(res.Reasons, reason)
		}
	}

	if off, known := b.OffHours(e.Timestamp, s.cfg.Location, s.cfg.WindowWraps); known && off {
		res.Score *= s.cfg.OffHoursMultiplier
		res.Tags = append(res.Tags, TagOffHours)
		res.Reasons = append(res.Reasons, fmt.Sprintf("ER: activity outside typical hours (x%.1f)", s.cfg.OffHoursMultiplier))
	}
	return res
}

// dominantProperty returns the highest matching file property score.
func (s *Scorer) dominantProperty(ctx context.Context, e *event.Event, res *Result) (float64, string, string) {
	var (
		best   float64
		tag    string
		reason string
	)
	consider := func(score float64, t, r string) {
		if score > best {
			best, tag, reason = score, t, r
		}
	}

	if s.rep != nil {
		positives, found, err := s.rep.Lookup(ctx, e.FileID)
		switch {
		case err != nil:
			s.logger.Warn("eventrisk: reputation lookup failed", "file_id", e.FileID, "err", err)
			res.Reasons = append(res.Reasons, "ER: reputation lookup unavailable")
		case found && positives > 0:
			res.Positives = positives
			consider(s.cfg.KnownMalwareScore, TagKnownMalware,
				fmt.Sprintf("ER: file is a known threat (%d detections)", positives))
		}
	}

	ext := e.Extension()
	if _, ok := s.suspicious[ext]; ok && ext != "" {
		consider(s.cfg.SuspiciousExtensionScore, TagSuspiciousExtension,
			fmt.Sprintf("ER: suspicious extension %s", ext))
	}
	if want, ok := s.cfg.ExpectedMimeTypes[ext]; ok && e.MimeType != "" && !sameMime(want, e.MimeType) {
		consider(s.cfg.MimeMismatchScore, TagMimeMismatch,
			fmt.Sprintf("ER: extension %s does not match declared type %s", ext, e.MimeType))
	}
	return best, tag, reason
}

func sameMime(want, got string) bool {
	mt, _, err := mime.ParseMediaType(got)
	if err != nil {
		mt = strings.TrimSpace(got)
	}
	return strings.EqualFold(want, mt)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
