// Package ir provides the shared domain types for apifuzz.
//
// This package contains type definitions and identity helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Program IDs are monotonically increasing and assigned by the engine clock
//   - Seed metadata records carry elapsed time since session start, never wall time
//   - All JSON and YAML tags use snake_case
package ir
