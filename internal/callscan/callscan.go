// Package callscan extracts call expressions from C/C++ source text.
//
// The scan is syntactic only: the source is parsed with the tree-sitter C++
// grammar and every call_expression is reported by the text of its function
// part, in pre-order. No name resolution or type checking is attempted, so
// member calls appear as written ("obj.method", "ns::fn").
package callscan

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/roach88/apifuzz/internal/ir"
)

// maxDepth bounds recursion on pathological inputs.
const maxDepth = 2000

// Calls returns the callee text of every call expression in source, in the
// order the parser visits them (outer call before its arguments).
func Calls(ctx context.Context, source string) ([]string, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(cpp.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	var calls []string
	collectCalls(tree.RootNode(), content, &calls, 0)
	return calls, nil
}

func collectCalls(node *sitter.Node, content []byte, calls *[]string, depth int) {
	if node == nil || depth > maxDepth {
		return
	}
	if node.Type() == "call_expression" {
		if fn := node.ChildByFieldName("function"); fn != nil {
			*calls = append(*calls, fn.Content(content))
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectCalls(node.Child(i), content, calls, depth+1)
	}
}

// Pairs returns every consecutive pair of calls.
func Pairs(calls []string) []ir.CallPair {
	if len(calls) < 2 {
		return nil
	}
	out := make([]ir.CallPair, 0, len(calls)-1)
	for i := 0; i+1 < len(calls); i++ {
		out = append(out, ir.CallPair{First: calls[i], Second: calls[i+1]})
	}
	return out
}

// Triples returns every window of three consecutive calls.
func Triples(calls []string) []ir.CallTriple {
	if len(calls) < 3 {
		return nil
	}
	out := make([]ir.CallTriple, 0, len(calls)-2)
	for i := 0; i+2 < len(calls); i++ {
		out = append(out, ir.CallTriple{First: calls[i], Second: calls[i+1], Third: calls[i+2]})
	}
	return out
}

// DistinctPairs returns the set of consecutive call pairs in source.
func DistinctPairs(ctx context.Context, source string) (map[ir.CallPair]struct{}, error) {
	calls, err := Calls(ctx, source)
	if err != nil {
		return nil, err
	}
	set := make(map[ir.CallPair]struct{})
	for _, p := range Pairs(calls) {
		set[p] = struct{}{}
	}
	return set, nil
}
