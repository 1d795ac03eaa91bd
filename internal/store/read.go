package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/schedule"
)

// LatestSession returns the most recently started session.
// found is false when no session was recorded.
func (s *Store) LatestSession(ctx context.Context) (sess Session, found bool, err error) {
	var started int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, mode, target, started_at
		FROM sessions
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&sess.ID, &sess.Mode, &sess.Target, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("latest session: %w", err)
	}
	sess.StartedAt = time.Unix(0, started)
	return sess, true, nil
}

// ReadSeedMetas returns seed metadata in insertion order.
// An empty sessionID reads every session. FoundAt is the session start plus
// the elapsed offset.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadSeedMetas(ctx context.Context, sessionID string) ([]ir.SeedMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.path, m.elapsed_ns, s.started_at, m.coverage
		FROM seed_meta m
		JOIN sessions s ON s.id = m.session_id
		WHERE ? = '' OR m.session_id = ?
		ORDER BY m.seq ASC
	`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query seed meta: %w", err)
	}
	defer rows.Close()

	metas := []ir.SeedMeta{}
	for rows.Next() {
		var (
			m       ir.SeedMeta
			elapsed int64
			started int64
			cov     sql.NullFloat64
		)
		if err := rows.Scan(&m.Path, &elapsed, &started, &cov); err != nil {
			return nil, fmt.Errorf("scan seed meta: %w", err)
		}
		m.Elapsed = time.Duration(elapsed)
		m.FoundAt = time.Unix(0, started+elapsed)
		if cov.Valid {
			v := cov.Float64
			m.Coverage = &v
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seed meta: %w", err)
	}
	return metas, nil
}

// ReadTriples returns every discovered triple in discovery order.
func (s *Store) ReadTriples(ctx context.Context) ([]ir.CallTriple, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT first, second, third FROM api_triples ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query triples: %w", err)
	}
	defer rows.Close()

	triples := []ir.CallTriple{}
	for rows.Next() {
		var t ir.CallTriple
		if err := rows.Scan(&t.First, &t.Second, &t.Third); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		triples = append(triples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triples: %w", err)
	}
	return triples, nil
}

// VerdictCounts returns the number of recorded programs per verdict.
// An empty sessionID counts every session.
func (s *Store) VerdictCounts(ctx context.Context, sessionID string) (map[ir.Verdict]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verdict, COUNT(*) FROM programs
		WHERE ? = '' OR session_id = ?
		GROUP BY verdict
	`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	counts := map[ir.Verdict]int{}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v, err := ir.ParseVerdict(name)
		if err != nil {
			return nil, err
		}
		counts[v] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return counts, nil
}

// HasProgram reports whether a program with the same normalized source was
// recorded.
func (s *Store) HasProgram(ctx context.Context, source string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM programs WHERE hash = ?`,
		ir.ProgramHash(source)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has program: %w", err)
	}
	return n > 0, nil
}

// MaxProgramID returns the largest recorded program ID, or 0.
func (s *Store) MaxProgramID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM programs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max program id: %w", err)
	}
	return id.Int64, nil
}

// LoadSchedulerState reads the persisted scheduler state.
// found is false when nothing was saved yet.
func (s *Store) LoadSchedulerState(ctx context.Context) (st schedule.State, found bool, err error) {
	values := map[string]string{}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM scheduler_state`)
	if err != nil {
		return st, false, fmt.Errorf("query scheduler state: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return st, false, fmt.Errorf("scan scheduler state: %w", err)
		}
		values[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, false, fmt.Errorf("iterate scheduler state: %w", err)
	}
	if len(values) == 0 {
		return st, false, nil
	}

	if st.Loop, err = strconv.Atoi(values[stateLoop]); err != nil {
		return st, false, fmt.Errorf("scheduler state loop: %w", err)
	}
	if st.LastCombination, err = unmarshalNames(values[stateLastCombination]); err != nil {
		return st, false, err
	}

	st.PromptCounts = map[string]int{}
	st.EnergyCounters = map[string]float64{}
	crows, err := s.db.QueryContext(ctx, `
		SELECT name, prompt_count, energy FROM gadget_counters ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return st, false, fmt.Errorf("query gadget counters: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			name   string
			prompt int
			energy float64
		)
		if err := crows.Scan(&name, &prompt, &energy); err != nil {
			return st, false, fmt.Errorf("scan gadget counter: %w", err)
		}
		if prompt != 0 {
			st.PromptCounts[name] = prompt
		}
		if energy != 0 {
			st.EnergyCounters[name] = energy
		}
	}
	if err := crows.Err(); err != nil {
		return st, false, fmt.Errorf("iterate gadget counters: %w", err)
	}
	return st, true, nil
}
