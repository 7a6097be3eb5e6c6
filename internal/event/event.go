package event

import (
	"path"
	"strings"
	"time"
)

// Type is the kind of file activity an event records.
type Type string

const (
	TypeCreated           Type = "file_created"
	TypeCopied            Type = "file_copied"
	TypeRenamed           Type = "file_renamed"
	TypeMoved             Type = "file_moved"
	TypeModified          Type = "file_modified"
	TypeTrashed           Type = "file_trashed"
	TypeDeletedPermanent  Type = "file_deleted_permanently"
	TypeSharedExternally  Type = "file_shared_externally"
	TypeMadePublic        Type = "file_made_public"
	TypePermissionChanged Type = "permission_change_internal"
)

// Types lists every known event type in a stable order. Feature vectors and
// one-hot encodings depend on this order; append only.
var Types = []Type{
	TypeCreated,
	TypeCopied,
	TypeRenamed,
	TypeMoved,
	TypeModified,
	TypeTrashed,
	TypeDeletedPermanent,
	TypeSharedExternally,
	TypeMadePublic,
	TypePermissionChanged,
}

// Known reports whether t is part of the closed event type set.
func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// IsDeletion reports whether t removes a file (trash or permanent delete).
func (t Type) IsDeletion() bool {
	return t == TypeTrashed || t == TypeDeletedPermanent
}

// Event is the canonical input model: one file activity, already resolved
// against file metadata by the ingestion side. Events are never mutated once
// handed to the engine.
type Event struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	FileID    string    `json:"file_id"`
	Type      Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      *int64    `json:"size,omitempty"`

	FileCreatedAt    *time.Time `json:"file_created_at,omitempty"`
	FileModifiedAt   *time.Time `json:"file_modified_at,omitempty"`
	SharedExternally bool       `json:"shared_externally"`
	MD5Checksum      string     `json:"md5_checksum,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Extension returns the lower-cased final extension of the file name,
// including the leading dot, or "" when the name has none.
func (e *Event) Extension() string {
	return Extension(e.Name)
}

// Extension returns the lower-cased final extension of name.
func Extension(name string) string {
	return strings.ToLower(path.Ext(strings.TrimSpace(name)))
}
