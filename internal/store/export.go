package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/roach88/apifuzz/internal/ir"
)

// seedMetaHeader is the column order of the seed metadata CSV.
var seedMetaHeader = []string{"path", "elapsed_seconds", "coverage"}

// ExportSeedMetaCSV writes the seed metadata of sessionID (every session
// when empty) as CSV. Missing coverage is written as an empty field.
func (s *Store) ExportSeedMetaCSV(ctx context.Context, w io.Writer, sessionID string) (int, error) {
	metas, err := s.ReadSeedMetas(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(metas), WriteSeedMetaCSV(w, metas)
}

// WriteSeedMetaCSV writes metas as CSV with a header row.
func WriteSeedMetaCSV(w io.Writer, metas []ir.SeedMeta) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(seedMetaHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, m := range metas {
		cov := ""
		if m.Coverage != nil {
			cov = strconv.FormatFloat(*m.Coverage, 'f', -1, 64)
		}
		rec := []string{m.Path, strconv.FormatFloat(m.Elapsed.Seconds(), 'f', -1, 64), cov}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadSeedMetaCSV parses CSV written by WriteSeedMetaCSV.
func ReadSeedMetaCSV(r io.Reader) ([]ir.SeedMeta, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(seedMetaHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return []ir.SeedMeta{}, nil
	}
	if records[0][0] != seedMetaHeader[0] {
		return nil, fmt.Errorf("read csv: missing header row")
	}

	metas := make([]ir.SeedMeta, 0, len(records)-1)
	for i, rec := range records[1:] {
		secs, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: elapsed: %w", i+2, err)
		}
		m := ir.SeedMeta{Path: rec[0], Elapsed: time.Duration(secs * float64(time.Second))}
		if rec[2] != "" {
			v, err := strconv.ParseFloat(rec[2], 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: coverage: %w", i+2, err)
			}
			m.Coverage = &v
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// ImportSeedMetas appends metas under sessionID, creating the session if
// needed. Paths already present are skipped; their coverage is updated
// when the imported record carries one.
func (s *Store) ImportSeedMetas(ctx context.Context, sess Session, metas []ir.SeedMeta) error {
	if err := s.WriteSession(ctx, sess); err != nil {
		return err
	}
	for _, m := range metas {
		if err := s.AppendSeedMeta(ctx, sess.ID, m); err != nil {
			return err
		}
	}
	return s.UpdateSeedCoverage(ctx, metas)
}
