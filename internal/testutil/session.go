package testutil

// FixedSessionGenerator generates the same session token every time.
//
// This enables deterministic assertions on persisted seed metadata, which is
// keyed by session token.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	token string
}

// NewFixedSessionGenerator creates a new fixed session token generator.
// If token is empty, Generate() returns "test-session-default".
func NewFixedSessionGenerator(token string) *FixedSessionGenerator {
	if token == "" {
		token = "test-session-default"
	}
	return &FixedSessionGenerator{token: token}
}

// Generate returns the fixed session token.
func (g *FixedSessionGenerator) Generate() string {
	return g.token
}
