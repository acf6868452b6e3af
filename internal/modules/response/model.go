// README: Response draft and attachment definitions.
package response

import (
	"errors"

	"trail/internal/types"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileNotFound    = errors.New("file not attached")
)

type File struct {
	ID          types.ID `json:"id"`
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	Content     []byte   `json:"-"`
}

// Draft is the in-progress response of one user for one task.
type Draft struct {
	TaskID     types.ID     `json:"task_id"`
	Text       string       `json:"text,omitempty"`
	LocationID types.ID     `json:"location_id,omitempty"`
	Coordinate *types.Point `json:"coordinate,omitempty"`
	Files      []File       `json:"files"`
}

// IsSubmittable reports whether the draft carries text, a location or a
// file. No single field is mandatory.
func (d Draft) IsSubmittable() bool {
	return d.Text != "" || d.LocationID != "" || len(d.Files) > 0
}

// IsEmpty reports whether every field of the draft is clear.
func (d Draft) IsEmpty() bool {
	return !d.IsSubmittable() && d.Coordinate == nil
}

type Config struct {
	MaxFileBytes int64
	AllowedTypes []string
}

func DefaultConfig() Config {
	return Config{
		MaxFileBytes: 10 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/heic"},
	}
}
