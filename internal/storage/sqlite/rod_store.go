package sqlite

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/rodtracker/internal/rods"
)

// InsertRods stores the rods of a run in a single transaction. Rows already
// stored for the same (color, frame, particle) are replaced.
func (s *RunStore) InsertRods(runID string, rs []rods.Rod) error {
	err := retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO run_rods (
				run_id, color, frame, particle,
				x1, y1, z1, x2, y2, z2,
				cam1_x1, cam1_y1, cam1_x2, cam1_y2,
				cam2_x1, cam2_y1, cam2_x2, cam2_y2,
				seen1, seen2, cost
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rs {
			c1, c2 := r.Cam[0], r.Cam[1]
			if _, err := stmt.Exec(
				runID, r.Color, r.Frame, r.Particle,
				nullFloat(r.P1.X), nullFloat(r.P1.Y), nullFloat(r.P1.Z),
				nullFloat(r.P2.X), nullFloat(r.P2.Y), nullFloat(r.P2.Z),
				nullFloat(c1[0].X), nullFloat(c1[0].Y), nullFloat(c1[1].X), nullFloat(c1[1].Y),
				nullFloat(c2[0].X), nullFloat(c2[0].Y), nullFloat(c2[1].X), nullFloat(c2[1].Y),
				r.Seen[0], r.Seen[1], nullFloat(r.Cost),
			); err != nil {
				return fmt.Errorf("rod %s/%d/%d: %w", r.Color, r.Frame, r.Particle, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("inserting %d rods for run %s: %w", len(rs), runID, err)
	}
	return nil
}

// ListRods returns the rods of a run ordered by color, frame and particle.
// An empty color returns every color. NULL coordinates read back as NaN.
func (s *RunStore) ListRods(runID, color string) ([]rods.Rod, error) {
	query := `
		SELECT color, frame, particle,
		       x1, y1, z1, x2, y2, z2,
		       cam1_x1, cam1_y1, cam1_x2, cam1_y2,
		       cam2_x1, cam2_y1, cam2_x2, cam2_y2,
		       seen1, seen2, cost
		FROM run_rods
		WHERE run_id = ? AND (? = '' OR color = ?)
		ORDER BY color, frame, particle`
	rows, err := s.db.Query(query, runID, color, color)
	if err != nil {
		return nil, fmt.Errorf("listing rods for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []rods.Rod
	for rows.Next() {
		var (
			r  rods.Rod
			f  [15]sql.NullFloat64
			s1 bool
			s2 bool
		)
		if err := rows.Scan(&r.Color, &r.Frame, &r.Particle,
			&f[0], &f[1], &f[2], &f[3], &f[4], &f[5],
			&f[6], &f[7], &f[8], &f[9],
			&f[10], &f[11], &f[12], &f[13],
			&s1, &s2, &f[14]); err != nil {
			return nil, fmt.Errorf("scanning rod: %w", err)
		}
		v := func(i int) float64 {
			if !f[i].Valid {
				return math.NaN()
			}
			return f[i].Float64
		}
		r.P1 = r3.Vector{X: v(0), Y: v(1), Z: v(2)}
		r.P2 = r3.Vector{X: v(3), Y: v(4), Z: v(5)}
		r.Cam[0] = rods.EndpointPair{r2.Point{X: v(6), Y: v(7)}, r2.Point{X: v(8), Y: v(9)}}
		r.Cam[1] = rods.EndpointPair{r2.Point{X: v(10), Y: v(11)}, r2.Point{X: v(12), Y: v(13)}}
		r.Seen = [2]bool{s1, s2}
		r.Cost = v(14)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadTable reads the rods of a run into a table with the given camera IDs.
func (s *RunStore) LoadTable(runID, cam1, cam2 string) (*rods.Table, error) {
	rs, err := s.ListRods(runID, "")
	if err != nil {
		return nil, err
	}
	t := rods.NewTable(cam1, cam2)
	t.Append(rs...)
	return t, nil
}

func nullFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
