package header

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseTrace_Nesting(t *testing.T) {
	trace := strings.Join([]string{
		". ./png.h",
		".. ./pnglibconf.h",
		".. ./pngconf.h",
		"... ./pngdebug.h",
		". ./zlib_glue.h",
	}, "\n")

	got := ParseTrace([]byte(trace), "/build/include", "./top.h")

	want := &Node{Name: "top.h", Children: []*Node{
		{Name: "png.h", Children: []*Node{
			{Name: "pnglibconf.h"},
			{Name: "pngconf.h", Children: []*Node{{Name: "pngdebug.h"}}},
		}},
		{Name: "zlib_glue.h"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrace_DuplicatesKept(t *testing.T) {
	trace := ". ./a.h\n.. ./common.h\n. ./b.h\n.. ./common.h\n"

	got := ParseTrace([]byte(trace), "/h", "top.h")

	want := &Node{Name: "top.h", Children: []*Node{
		{Name: "a.h", Children: []*Node{{Name: "common.h"}}},
		{Name: "b.h", Children: []*Node{{Name: "common.h"}}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrace_SystemHeadersRecordedNotDescended(t *testing.T) {
	trace := strings.Join([]string{
		". /usr/include/stdio.h",
		".. /usr/include/x86_64-linux-gnu/bits/types.h",
		". ./api.h",
		".. /usr/lib/llvm-18/lib/clang/18/include/stddef.h",
		".. ./detail.h",
	}, "\n")

	got := ParseTrace([]byte(trace), "/lib/include", "root.h")

	want := &Node{
		Name:           "root.h",
		SystemIncludes: []string{"/usr/include/stdio.h"},
		Children: []*Node{{
			Name:           "api.h",
			SystemIncludes: []string{"/usr/lib/llvm-18/lib/clang/18/include/stddef.h"},
			Children:       []*Node{{Name: "detail.h"}},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrace_AbsoluteLibraryPathsStripped(t *testing.T) {
	dir := t.TempDir()
	trace := ". " + filepath.Join(dir, "sub", "x.h") + "\n.. " + filepath.Join(dir, "y.hpp") + "\n"

	got := ParseTrace([]byte(trace), dir, "sub/top.h")

	want := &Node{Name: "sub/top.h", Children: []*Node{
		{Name: "sub/x.h", Children: []*Node{{Name: "y.hpp"}}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrace_IgnoresNoise(t *testing.T) {
	trace := strings.Join([]string{
		"In file included from top.h:1:",
		". ./a.h",
		"Multiple include guards may be useful for:",
		"/usr/include/features.h",
		". ./b.inc",
		".. ./hidden.h",
		". ../outside.h",
		"..",
	}, "\n")

	got := ParseTrace([]byte(trace), "/h", "top.h")

	want := &Node{Name: "top.h", Children: []*Node{{Name: "a.h"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrace_NamesAreRelative(t *testing.T) {
	dir := t.TempDir()
	trace := ". ./a.h\n.. " + filepath.Join(dir, "b.h") + "\n... ./nested/c.hxx\n. /usr/include/string.h\n"

	tree := ParseTrace([]byte(trace), dir, "./root.h")

	tree.Walk(func(n *Node) {
		assert.False(t, filepath.IsAbs(n.Name), "name %q must be relative", n.Name)
		assert.False(t, strings.HasPrefix(n.Name, "./"), "name %q must be normalized", n.Name)
	})
}

func TestNode_Invalid(t *testing.T) {
	assert.True(t, NewInvalid().Invalid())
	assert.True(t, (*Node)(nil).Invalid())
	assert.False(t, (&Node{Name: "a.h"}).Invalid())
}
