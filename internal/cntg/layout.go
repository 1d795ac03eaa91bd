package cntg

import (
	"fmt"
	"path/filepath"
)

// Layout names the files of one work directory.
type Layout struct {
	Root string
}

func (l Layout) SeedsDir() string    { return filepath.Join(l.Root, "seeds") }
func (l Layout) CoresDir() string    { return filepath.Join(l.Root, "cores") }
func (l Layout) ProfilesDir() string { return filepath.Join(l.Root, "profiles") }

// MergedProfile is written by CollectAll and read by Report.
func (l Layout) MergedProfile() string { return filepath.Join(l.Root, "merged.profdata") }

// CumulativeProfile is the running profile of RecomputeSeedCoverage.
func (l Layout) CumulativeProfile() string { return filepath.Join(l.Root, "cumulative.profdata") }

// SeedCopy is the path of the n-th numbered input copy.
func (l Layout) SeedCopy(n int) string {
	return filepath.Join(l.SeedsDir(), fmt.Sprintf("seed_%06d.cc", n))
}

// CoreDir is the directory of the i-th core.
func (l Layout) CoreDir(i int) string {
	return filepath.Join(l.CoresDir(), coreName(i))
}

// RawProfile is the raw profile path of the i-th core.
func (l Layout) RawProfile(i int) string {
	return filepath.Join(l.ProfilesDir(), coreName(i)+".profraw")
}

// IndexedProfile is the merged single-run profile of the i-th core.
func (l Layout) IndexedProfile(i int) string {
	return filepath.Join(l.ProfilesDir(), coreName(i)+".profdata")
}

func coreName(i int) string {
	return fmt.Sprintf("core_%04d", i)
}

const (
	mainFile   = "main.cc"
	binaryName = "core"
)

func memberFile(j int) string {
	return fmt.Sprintf("member_%02d.cc", j)
}
