package toolchain

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Coverage is the branch coverage extracted from an LCOV export.
type Coverage struct {
	BranchesFound int
	BranchesHit   int
	// Branches holds the identifiers of every taken branch,
	// formatted as "file:line:block:branch".
	Branches map[string]struct{}
}

// Percent returns the branch coverage percentage in [0, 100].
func (c Coverage) Percent() float64 {
	if c.BranchesFound == 0 {
		return 0
	}
	return float64(c.BranchesHit) * 100 / float64(c.BranchesFound)
}

// ParseLCOV reads BRDA/BRF/BRH records from LCOV text.
//
// BRF/BRH totals are summed across files. When a file record carries BRDA
// lines but no BRF/BRH summary, the totals are derived from the BRDA lines.
func ParseLCOV(data []byte) (Coverage, error) {
	cov := Coverage{Branches: make(map[string]struct{})}

	var (
		file           string
		brf, brh       int
		sawBRF, sawBRH bool
		fileFound      int
		fileHit        int
	)

	flush := func() {
		if sawBRF {
			cov.BranchesFound += brf
		} else {
			cov.BranchesFound += fileFound
		}
		if sawBRH {
			cov.BranchesHit += brh
		} else {
			cov.BranchesHit += fileHit
		}
		brf, brh, fileFound, fileHit = 0, 0, 0, 0
		sawBRF, sawBRH = false, false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "SF:"):
			file = strings.TrimPrefix(line, "SF:")
		case strings.HasPrefix(line, "BRDA:"):
			fields := strings.Split(strings.TrimPrefix(line, "BRDA:"), ",")
			if len(fields) != 4 {
				return Coverage{}, fmt.Errorf("lcov line %d: malformed BRDA %q", lineNo, line)
			}
			fileFound++
			taken := fields[3]
			if taken == "-" || taken == "0" {
				continue
			}
			fileHit++
			id := fmt.Sprintf("%s:%s:%s:%s", file, fields[0], fields[1], fields[2])
			cov.Branches[id] = struct{}{}
		case strings.HasPrefix(line, "BRF:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "BRF:"))
			if err != nil {
				return Coverage{}, fmt.Errorf("lcov line %d: %w", lineNo, err)
			}
			brf, sawBRF = n, true
		case strings.HasPrefix(line, "BRH:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "BRH:"))
			if err != nil {
				return Coverage{}, fmt.Errorf("lcov line %d: %w", lineNo, err)
			}
			brh, sawBRH = n, true
		case line == "end_of_record":
			flush()
			file = ""
		}
	}
	if err := sc.Err(); err != nil {
		return Coverage{}, fmt.Errorf("scan lcov: %w", err)
	}
	if file != "" {
		flush()
	}
	return cov, nil
}
