package generator

import "strings"

// fenceLangs are the info strings stripped from an opening fence.
var fenceLangs = []string{"cpp", "CPP", "c++", "C++", "cc", "c", "C"}

// ExtractCode returns the program inside the first fenced block of reply.
//
// Prose before the opening fence is kept as a leading block comment so the
// model's stated intent travels with the program. Text after the closing
// fence is dropped. A reply without fences is returned trimmed.
func ExtractCode(reply string) string {
	reply = strings.TrimSpace(reply)
	open := strings.Index(reply, "```")
	if open < 0 {
		return reply
	}
	intro := strings.TrimSpace(reply[:open])
	body := reply[open+3:]
	for _, lang := range fenceLangs {
		if rest, ok := strings.CutPrefix(body, lang); ok && (rest == "" || rest[0] == '\n' || rest[0] == '\r') {
			body = rest
			break
		}
	}
	body = strings.TrimLeft(body, "\r\n")
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimRight(body, " \t\r\n") + "\n"
	if intro == "" {
		return body
	}
	intro = strings.ReplaceAll(intro, "*/", "* /")
	return "/* " + intro + " */\n" + body
}
