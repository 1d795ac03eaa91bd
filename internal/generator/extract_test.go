package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "no fence",
			reply: "  int f() { return 0; }\n\n",
			want:  "int f() { return 0; }",
		},
		{
			name:  "cpp fence",
			reply: "```cpp\nint f() { return 1; }\n```",
			want:  "int f() { return 1; }\n",
		},
		{
			name:  "bare fence",
			reply: "```\nint g();\n```\n",
			want:  "int g();\n",
		},
		{
			name:  "c fence keeps identifier starting with c",
			reply: "```c\nconst int x = 1;\n```",
			want:  "const int x = 1;\n",
		},
		{
			name:  "no language and body starts with c",
			reply: "```\nchar buf[4];\n```",
			want:  "char buf[4];\n",
		},
		{
			name:  "prose becomes comment",
			reply: "Here is the program:\n```c++\nint h();\n```\nHope it helps.",
			want:  "/* Here is the program: */\nint h();\n",
		},
		{
			name:  "comment terminator in prose is escaped",
			reply: "uses */ inside\n```cc\nint k;\n```",
			want:  "/* uses * / inside */\nint k;\n",
		},
		{
			name:  "unterminated fence",
			reply: "```C\nint m;\n",
			want:  "int m;\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.reply))
		})
	}
}
