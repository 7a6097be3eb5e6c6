// Package contextual keeps a rolling activity window per actor and derives
// contextual risk additions and micro-patterns from it.
package contextual

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/actorstate"
	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

const (
	TagDormantFile = "DORMANT_FILE_ACTIVATION"
	TagArchive     = "COMPRESSED_ARCHIVE"
	TagBurst       = "BURST_ACTIVITY"
)

type Config struct {
	Window      time.Duration
	BulkWindow  time.Duration
	BurstWindow time.Duration

	BulkCopyThreshold   int
	BulkModifyThreshold int
	BulkDeleteThreshold int
	BurstThreshold      int

	DormantAge   time.Duration
	DormantQuiet time.Duration

	DormantScore float64
	ArchiveScore float64
	BurstScore   float64

	ArchiveExtensions  []string
	ArchiveMimeTypes   []string
	RansomExtensions   []string
	RansomNoteKeywords []string

	Shards int
}

func DefaultConfig() Config {
	return Config{
		Window:              45 * time.Minute,
		BulkWindow:          30 * time.Minute,
		BurstWindow:         10 * time.Minute,
		BulkCopyThreshold:   10,
		BulkModifyThreshold: 20,
		BulkDeleteThreshold: 20,
		BurstThreshold:      15,
		DormantAge:          365 * 24 * time.Hour,
		DormantQuiet:        180 * 24 * time.Hour,
		DormantScore:        7,
		ArchiveScore:        4,
		BurstScore:          8,
		ArchiveExtensions:   []string{".zip", ".rar", ".7z", ".tar", ".gz", ".tgz", ".bz2", ".xz"},
		ArchiveMimeTypes: []string{
			"application/zip",
			"application/x-zip-compressed",
			"application/x-7z-compressed",
			"application/x-rar-compressed",
			"application/vnd.rar",
			"application/x-tar",
			"application/gzip",
		},
		RansomExtensions:   []string{".locked", ".encrypted", ".crypt", ".crypted", ".wncry", ".lockbit", ".ryk", ".enc"},
		RansomNoteKeywords: []string{"readme", "decrypt", "restore", "recover", "how_to", "ransom"},
	}
}

// Validate checks that thresholds are positive and that the window retains
// enough history for every derived signal.
func (c Config) Validate() error {
	var errs []error
	if c.Window <= 0 || c.BulkWindow <= 0 || c.BurstWindow <= 0 {
		errs = append(errs, errors.New("window, bulk_window and burst_window must be positive"))
	}
	if c.Window < c.BulkWindow {
		errs = append(errs, fmt.Errorf("window %s is shorter than bulk_window %s", c.Window, c.BulkWindow))
	}
	if c.Window < c.BurstWindow {
		errs = append(errs, fmt.Errorf("window %s is shorter than burst_window %s", c.Window, c.BurstWindow))
	}
	if c.BulkCopyThreshold < 1 || c.BulkModifyThreshold < 1 || c.BulkDeleteThreshold < 1 {
		errs = append(errs, errors.New("bulk thresholds must be at least 1"))
	}
	if c.BurstThreshold < 1 {
		errs = append(errs, errors.New("burst_threshold must be at least 1"))
	}
	return errors.Join(errs...)
}

type Result struct {
	Score    float64
	Reasons  []string
	Tags     []string
	Patterns []pattern.Pattern
}

// HasTag reports whether tag was raised.
func (r Result) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type entry struct {
	id  string
	typ event.Type
	at  time.Time
}

type window struct {
	entries []entry
}

// countSince counts entries matching keep at or after from.
func (w *window) countSince(from time.Time, keep func(event.Type) bool) int {
	n := 0
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if e.at.Before(from) {
			continue
		}
		if keep == nil || keep(e.typ) {
			n++
		}
	}
	return n
}

// append inserts e in timestamp order, so a late event lands behind newer
// ones, then evicts entries older than bound relative to the newest entry.
func (w *window) append(e entry, bound time.Duration) {
	i := len(w.entries)
	for i > 0 && w.entries[i-1].at.After(e.at) {
		i--
	}
	w.entries = slices.Insert(w.entries, i, e)
	newest := w.latest()
	cut := 0
	for cut < len(w.entries) && newest.Sub(w.entries[cut].at) > bound {
		cut++
	}
	if cut > 0 {
		w.entries = append(w.entries[:0], w.entries[cut:]...)
	}
}

func (w *window) latest() time.Time {
	if len(w.entries) == 0 {
		return time.Time{}
	}
	return w.entries[len(w.entries)-1].at
}

// Aggregator owns every actor's window. Calls for one actor must be made in
// timestamp order by a single writer; different actors may be updated
// concurrently.
type Aggregator struct {
	cfg         Config
	windows     *actorstate.Registry[window]
	archiveExt  map[string]struct{}
	archiveMime map[string]struct{}
	ransomExt   map[string]struct{}
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		cfg:         cfg,
		windows:     actorstate.New(cfg.Shards, func() *window { return &window{} }),
		archiveExt:  lowerSet(cfg.ArchiveExtensions),
		archiveMime: lowerSet(cfg.ArchiveMimeTypes),
		ransomExt:   lowerSet(cfg.RansomExtensions),
		logger:      logger,
	}
}

// UpdateAndScore computes contextual additions and micro-patterns for e from
// the window as it stood before e, then appends e and evicts stale entries.
// b may be nil.
func (a *Aggregator) UpdateAndScore(e *event.Event, b *baseline.UserBaseline) Result {
	var res Result
	a.windows.With(e.ActorID, func(w *window) {
		if last := w.latest(); !last.IsZero() && e.Timestamp.Before(last) {
			a.logger.Warn("contextual: out-of-order event",
				"actor_id", e.ActorID, "event_id", e.ID, "ts", e.Timestamp, "latest", last)
		}
		a.additions(e, w, &res)
		res.Patterns = a.patterns(e, w, b)
		w.append(entry{id: e.ID, typ: e.Type, at: e.Timestamp}, a.cfg.Window)
	})
	return res
}

func (a *Aggregator) additions(e *event.Event, w *window, res *Result) {
	if a.dormant(e) {
		res.Score += a.cfg.DormantScore
		res.Tags = append(res.Tags, TagDormantFile)
		res.Reasons = append(res.Reasons, "CR: action on a dormant file")
	}
	if _, ok := a.archiveExt[e.Extension()]; ok {
		res.Score += a.cfg.ArchiveScore
		res.Tags = append(res.Tags, TagArchive)
		res.Reasons = append(res.Reasons, fmt.Sprintf("CR: compressed archive %s involved", e.Name))
	}
	if n := w.countSince(e.Timestamp.Add(-a.cfg.BurstWindow), nil); n > a.cfg.BurstThreshold {
		res.Score += a.cfg.BurstScore
		res.Tags = append(res.Tags, TagBurst)
		res.Reasons = append(res.Reasons, fmt.Sprintf("CR: burst of %d events in %s", n, a.cfg.BurstWindow))
	}
}

func (a *Aggregator) dormant(e *event.Event) bool {
	switch e.Type {
	case event.TypeModified, event.TypeSharedExternally, event.TypeTrashed:
	default:
		return false
	}
	if e.FileID == "" || e.FileCreatedAt == nil || e.FileModifiedAt == nil {
		return false
	}
	return e.Timestamp.Sub(*e.FileCreatedAt) > a.cfg.DormantAge &&
		e.Timestamp.Sub(*e.FileModifiedAt) > a.cfg.DormantQuiet
}

func (a *Aggregator) patterns(e *event.Event, w *window, b *baseline.UserBaseline) []pattern.Pattern {
	var out []pattern.Pattern
	emit := func(t pattern.Type, data map[string]any) {
		out = append(out, pattern.Pattern{Type: t, EventID: e.ID, Data: data})
	}
	from := e.Timestamp.Add(-a.cfg.BulkWindow)

	bulk := func(t pattern.Type, threshold int, match func(event.Type) bool) {
		if !match(e.Type) {
			return
		}
		count := w.countSince(from, match) + 1
		if count == threshold {
			emit(t, map[string]any{"count": count, "threshold": threshold, "window": a.cfg.BulkWindow.String()})
		}
	}
	bulk(pattern.BulkCopy, a.cfg.BulkCopyThreshold, isType(event.TypeCopied))
	bulk(pattern.BulkModify, a.cfg.BulkModifyThreshold, isType(event.TypeModified))
	bulk(pattern.BulkDelete, a.deleteThreshold(b), event.Type.IsDeletion)

	switch e.Type {
	case event.TypeCreated:
		if a.isArchiveMime(e.MimeType) {
			emit(pattern.ArchiveCreate, map[string]any{"name": e.Name, "mime_type": e.MimeType})
		}
	case event.TypeRenamed:
		if ext := e.Extension(); ext != "" {
			if _, ok := a.ransomExt[ext]; ok {
				emit(pattern.RansomRename, map[string]any{"name": e.Name, "extension": ext})
			}
		}
	}
	if e.Type == event.TypeCreated && a.isRansomNote(e) {
		emit(pattern.RansomNote, map[string]any{"name": e.Name})
	}
	switch e.Type {
	case event.TypeSharedExternally:
		emit(pattern.ExternalShare, map[string]any{"file_id": e.FileID, "name": e.Name})
	case event.TypeMadePublic:
		emit(pattern.PublicExposure, map[string]any{"file_id": e.FileID, "name": e.Name})
	}
	return out
}

// deleteThreshold raises the configured bulk-delete threshold for actors
// whose history already includes large deletion days.
func (a *Aggregator) deleteThreshold(b *baseline.UserBaseline) int {
	threshold := a.cfg.BulkDeleteThreshold
	if b != nil && 2*b.MaxHistoricalDeletions > threshold {
		threshold = 2 * b.MaxHistoricalDeletions
	}
	return threshold
}

func (a *Aggregator) isArchiveMime(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = mimeType
	}
	_, ok := a.archiveMime[strings.ToLower(strings.TrimSpace(mt))]
	return ok
}

func (a *Aggregator) isRansomNote(e *event.Event) bool {
	base := strings.ToLower(path.Base(strings.TrimSpace(e.Name)))
	matched := false
	for _, kw := range a.cfg.RansomNoteKeywords {
		if kw != "" && strings.Contains(base, strings.ToLower(kw)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	mt := strings.ToLower(e.MimeType)
	if strings.HasPrefix(mt, "text/plain") || strings.HasPrefix(mt, "text/html") {
		return true
	}
	if mt == "" {
		switch e.Extension() {
		case ".txt", ".html", ".htm", ".hta":
			return true
		}
	}
	return false
}

// WindowLen returns the number of events held for actorID.
func (a *Aggregator) WindowLen(actorID string) int {
	n := 0
	a.windows.Peek(actorID, func(w *window) { n = len(w.entries) })
	return n
}

// Sweep drops windows whose newest event is older than the window bound at
// now. It returns the number of actors dropped.
func (a *Aggregator) Sweep(now time.Time) int {
	return a.windows.Sweep(func(_ string, w *window) bool {
		return len(w.entries) == 0 || now.Sub(w.latest()) > a.cfg.Window
	})
}

// Actors returns the number of actors with a live window.
func (a *Aggregator) Actors() int {
	return a.windows.Len()
}

func isType(t event.Type) func(event.Type) bool {
	return func(other event.Type) bool { return other == t }
}

func lowerSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}
	return out
}
