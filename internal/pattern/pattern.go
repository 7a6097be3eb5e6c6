// Package pattern defines the closed set of micro-patterns derived from an
// actor's activity window.
package pattern

import "fmt"

type Type string

const (
	BulkCopy       Type = "bulk_copy"
	BulkModify     Type = "bulk_modify"
	BulkDelete     Type = "bulk_delete"
	ArchiveCreate  Type = "archive_create"
	RansomRename   Type = "ransom_rename"
	RansomNote     Type = "ransom_note"
	ExternalShare  Type = "external_share"
	PublicExposure Type = "public_exposure"
)

// Types lists every pattern in emission order.
var Types = []Type{
	BulkCopy,
	BulkModify,
	BulkDelete,
	ArchiveCreate,
	RansomRename,
	RansomNote,
	ExternalShare,
	PublicExposure,
}

func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Parse returns the pattern named s.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Known() {
		return "", fmt.Errorf("unknown pattern type %q", s)
	}
	return t, nil
}

// Pattern is one micro-pattern occurrence, raised by the event EventID.
type Pattern struct {
	Type    Type           `json:"type"`
	EventID string         `json:"event_id"`
	Data    map[string]any `json:"data,omitempty"`
}
