// README: Postgres journal of submission state transitions.
package submission

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trail/internal/types"
)

type PGJournal struct {
	db *pgxpool.Pool
}

func NewPGJournal(db *pgxpool.Pool) *PGJournal {
	return &PGJournal{db: db}
}

func (j *PGJournal) Append(ctx context.Context, e Event) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := j.db.Exec(ctx, `
		INSERT INTO submission_events (
			user_id, task_id, response_id, from_phase, to_phase, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.UserID),
		string(e.TaskID),
		toStringPtr(e.ResponseID),
		string(e.FromPhase),
		string(e.ToPhase),
		e.Reason,
		createdAt,
	)
	return err
}

// List returns the newest events of one user's submissions for a task.
func (j *PGJournal) List(ctx context.Context, userID, taskID types.ID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `
		SELECT id, user_id, task_id, response_id, from_phase, to_phase, reason, created_at
		FROM submission_events
		WHERE user_id = $1 AND task_id = $2
		ORDER BY id DESC
		LIMIT $3`,
		string(userID), string(taskID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			user, task string
			responseID *string
			from, to   string
		)
		if err := rows.Scan(&e.ID, &user, &task, &responseID, &from, &to, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID, e.TaskID = types.ID(user), types.ID(task)
		e.FromPhase, e.ToPhase = Phase(from), Phase(to)
		if responseID != nil {
			id := types.ID(*responseID)
			e.ResponseID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
