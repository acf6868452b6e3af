// README: Visited set and progress counters of one user within one task.
package visited

import (
	"context"

	"trail/internal/types"
)

// Progress is the per-task completion counter. Unconfirmed is set while an
// optimistic change is waiting for reconciliation with the store.
type Progress struct {
	Actual      int  `json:"actual"`
	Expected    int  `json:"expected"`
	Unconfirmed bool `json:"unconfirmed"`
}

// CompletedResponse is one prior response of the user. LocationRef is empty
// for responses that did not pick a location.
type CompletedResponse struct {
	ResponseID  types.ID `json:"response_id"`
	LocationRef types.ID `json:"location_ref,omitempty"`
}

// Source is the external store call that lists a user's prior responses.
type Source interface {
	FetchUserCompletedResponses(ctx context.Context, taskID, userID types.ID) ([]CompletedResponse, error)
}
