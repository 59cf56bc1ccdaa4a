package sandbox

import (
	"regexp"
	"strings"
)

// CodeBlock 从 Markdown 中提取的代码块
type CodeBlock struct {
	Language Language
	Code     string
}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*([\\w+\\-]*)[^\\n]*\\n(.*?)```")

var languageAliases = map[string]Language{
	"python": LangPython, "py": LangPython, "python3": LangPython,
	"bash": LangBash, "shell": LangShell, "sh": LangShell, "console": LangShell,
	"javascript": LangJavaScript, "js": LangJavaScript, "node": LangJavaScript,
}

// ExtractCodeBlocks returns the fenced code blocks of text in order. Blocks
// without a language tag are treated as python.
func ExtractCodeBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		code := strings.TrimRight(m[2], "\n")
		if strings.TrimSpace(code) == "" {
			continue
		}
		tag := strings.ToLower(m[1])
		lang, ok := languageAliases[tag]
		if !ok {
			if tag == "" {
				lang = LangPython
			} else {
				lang = Language(tag)
			}
		}
		blocks = append(blocks, CodeBlock{Language: lang, Code: code})
	}
	return blocks
}
