package callscan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/ir"
)

const program = `#include <stdio.h>
#include <zlib.h>

int test_zlib_api_sequence() {
    z_stream strm;
    deflateInit(&strm, Z_DEFAULT_COMPRESSION);
    deflate(&strm, Z_FINISH);
    printf("%lu\n", compressBound(16));
    deflateEnd(&strm);
    return 66;
}
`

func TestCalls_PreOrder(t *testing.T) {
	calls, err := Calls(context.Background(), program)
	require.NoError(t, err)

	assert.Equal(t, []string{"deflateInit", "deflate", "printf", "compressBound", "deflateEnd"}, calls)
}

func TestCalls_MemberAndQualified(t *testing.T) {
	src := `void f() { std::vector<int> v; v.push_back(1); ns::g(); }`

	calls, err := Calls(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, []string{"v.push_back", "ns::g"}, calls)
}

func TestCalls_NoCalls(t *testing.T) {
	calls, err := Calls(context.Background(), "int x = 1;")
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestPairsAndTriples(t *testing.T) {
	calls := []string{"a", "b", "c", "a"}

	assert.Equal(t, []ir.CallPair{{First: "a", Second: "b"}, {First: "b", Second: "c"}, {First: "c", Second: "a"}}, Pairs(calls))
	assert.Equal(t, []ir.CallTriple{
		{First: "a", Second: "b", Third: "c"},
		{First: "b", Second: "c", Third: "a"},
	}, Triples(calls))

	assert.Nil(t, Pairs([]string{"a"}))
	assert.Nil(t, Triples([]string{"a", "b"}))
}

func TestDistinctPairs(t *testing.T) {
	src := `void f() { a(); b(); a(); b(); }`

	set, err := DistinctPairs(context.Background(), src)
	require.NoError(t, err)

	assert.Len(t, set, 2)
	assert.Contains(t, set, ir.CallPair{First: "a", Second: "b"})
	assert.Contains(t, set, ir.CallPair{First: "b", Second: "a"})
}
