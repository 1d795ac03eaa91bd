// Package cntg fuses many single-entry-point programs into a few multi-call
// executables ("cores"), compiles them in parallel and measures their branch
// coverage.
//
// Work directory layout:
//
//	<root>/seeds/seed_000000.cc       numbered copies of the input programs
//	<root>/cores/core_0000/main.cc    synthesized driver
//	<root>/cores/core_0000/member_00.cc ...
//	<root>/cores/core_0000/core       compiled binary
//	<root>/profiles/core_0000.profraw raw profile of one run
//	<root>/merged.profdata            profile of every core (CollectAll)
//	<root>/cumulative.profdata        running profile (RecomputeSeedCoverage)
//
// Each program defines the same entry function. Fusion renames it per batch
// member (entry_0, entry_1, ...) so all members link into one binary, and
// the driver calls them in order.
package cntg
