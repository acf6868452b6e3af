// README: Task location (point of interest) model.
package catalog

import (
	"encoding/json"

	"trail/internal/types"
)

// TaskLocation is one candidate point of interest of a task. Raw keeps the
// upstream payload for traceability only; it is never modified.
type TaskLocation struct {
	ID          types.ID        `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Point       types.Point     `json:"coordinate"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
