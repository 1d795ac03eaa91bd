package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/schedule"
)

// Session identifies one generation run.
type Session struct {
	ID        string
	Mode      string
	Target    string
	StartedAt time.Time
}

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, mode, target, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.Mode, sess.Target, sess.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteProgram records a validated program under its content hash.
// Returns inserted=false when a program with the same normalized source was
// recorded before; the earlier record is kept.
//
// Note: The session must exist (foreign key constraint).
func (s *Store) WriteProgram(ctx context.Context, sessionID string, p ir.Program) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO programs (id, hash, session_id, verdict, path, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, p.ID, ir.ProgramHash(p.Source), sessionID, p.Verdict.String(), p.Path, p.Detail)
	if err != nil {
		return false, fmt.Errorf("write program: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write program: %w", err)
	}
	return n > 0, nil
}

// AppendSeedMeta appends one seed metadata row.
// Re-appending a path already present is ignored.
func (s *Store) AppendSeedMeta(ctx context.Context, sessionID string, m ir.SeedMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seed_meta (path, session_id, elapsed_ns, coverage)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, m.Path, sessionID, int64(m.Elapsed), m.Coverage)
	if err != nil {
		return fmt.Errorf("append seed meta: %w", err)
	}
	return nil
}

// UpdateSeedCoverage back-fills coverage for every record with a non-nil
// Coverage. Records without coverage are left as stored.
func (s *Store) UpdateSeedCoverage(ctx context.Context, metas []ir.SeedMeta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update seed coverage: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `UPDATE seed_meta SET coverage = ? WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("update seed coverage: %w", err)
	}
	defer stmt.Close()

	for _, m := range metas {
		if m.Coverage == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, *m.Coverage, m.Path); err != nil {
			return fmt.Errorf("update seed coverage %s: %w", m.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update seed coverage: commit: %w", err)
	}
	return nil
}

// InsertTriples records triples found in program programID and returns how
// many of them were not known before.
func (s *Store) InsertTriples(ctx context.Context, programID int64, triples []ir.CallTriple) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert triples: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	added := 0
	for _, t := range triples {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO api_triples (first, second, third, program_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(first, second, third) DO NOTHING
		`, t.First, t.Second, t.Third, programID)
		if err != nil {
			return 0, fmt.Errorf("insert triple %s: %w", t, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert triple %s: %w", t, err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert triples: commit: %w", err)
	}
	return added, nil
}

// SaveSchedulerState replaces the persisted scheduler state with st.
func (s *Store) SaveSchedulerState(ctx context.Context, st schedule.State) error {
	combo, err := marshalNames(st.LastCombination)
	if err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save scheduler state: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM gadget_counters`); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	for _, name := range counterNames(st) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO gadget_counters (name, prompt_count, energy)
			VALUES (?, ?, ?)
		`, name, st.PromptCounts[name], st.EnergyCounters[name])
		if err != nil {
			return fmt.Errorf("save counter %s: %w", name, err)
		}
	}

	for key, value := range map[string]string{
		stateLoop:            strconv.Itoa(st.Loop),
		stateLastCombination: combo,
	} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduler_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("save scheduler state %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save scheduler state: commit: %w", err)
	}
	return nil
}

const (
	stateLoop            = "loop"
	stateLastCombination = "last_combination"
)

func counterNames(st schedule.State) []string {
	seen := make(map[string]struct{}, len(st.PromptCounts)+len(st.EnergyCounters))
	for n := range st.PromptCounts {
		seen[n] = struct{}{}
	}
	for n := range st.EnergyCounters {
		seen[n] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
