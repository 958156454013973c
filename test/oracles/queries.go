package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live database while the
// actors race. A returned row is a violated invariant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_winner_per_move",
			SQL: `SELECT move_id, COUNT(*) FROM move_requests
                  WHERE status = 'accepted'
                  GROUP BY move_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_mover_bound_iff_assigned",
			SQL: `SELECT id, status, mover_profile_id FROM moves
                  WHERE (status IN ('mover_assigned','mover_accepted','mover_en_route','mover_arrived',
                                    'loading','in_transit','arrived_destination','unloading','completed')
                         AND mover_profile_id IS NULL)
                     OR (status IN ('draft','pending_payment','paid') AND mover_profile_id IS NOT NULL)`,
		},
		{
			Name: "O3_history_follows_lifecycle",
			SQL: `SELECT h.id, h.move_id, h.from_status, h.to_status FROM move_status_history h
                  WHERE (h.from_status::text, h.to_status::text) NOT IN (
                      ('draft','pending_payment'), ('draft','cancelled_by_client'),
                      ('pending_payment','paid'), ('pending_payment','cancelled_by_client'),
                      ('paid','mover_assigned'), ('paid','cancelled_by_client'),
                      ('mover_assigned','mover_accepted'), ('mover_assigned','cancelled_by_mover'),
                      ('mover_accepted','mover_en_route'), ('mover_accepted','cancelled_by_mover'), ('mover_accepted','cancelled_by_client'),
                      ('mover_en_route','mover_arrived'), ('mover_en_route','cancelled_by_mover'),
                      ('mover_arrived','loading'),
                      ('loading','in_transit'),
                      ('in_transit','arrived_destination'),
                      ('arrived_destination','unloading'),
                      ('unloading','completed'),
                      ('completed','disputed'),
                      ('disputed','completed'))`,
		},
		{
			Name: "O4_no_accept_past_deadline",
			SQL: `SELECT id, expires_at, responded_at FROM move_requests
                  WHERE status = 'accepted' AND responded_at >= expires_at`,
		},
		{
			Name: "O5_history_seq_monotonic",
			SQL: `WITH chain AS (
                      SELECT move_id, id, from_status, to_status,
                             LAG(to_status) OVER (PARTITION BY move_id ORDER BY id) AS prev_to
                      FROM move_status_history)
                  SELECT * FROM chain WHERE prev_to IS NOT NULL AND from_status <> prev_to`,
		},
		{
			Name: "O6_winner_matches_binding",
			SQL: `SELECT r.id, r.move_id FROM move_requests r
                  JOIN moves m ON m.id = r.move_id
                  WHERE r.status = 'accepted'
                    AND m.status NOT IN ('draft','pending_payment','paid')
                    AND m.mover_profile_id IS DISTINCT FROM r.mover_profile_id`,
		},
		{
			Name: "O7_notifications_drained",
			SQL: `SELECT id, kind, created_at FROM notifications
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name if every check passes.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
