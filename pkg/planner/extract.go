package planner

import (
	"fmt"
	"strings"
)

// ExtractJSON pulls a single JSON object out of an LLM's raw text reply:
// a fenced ```json ... ``` or bare ``` ... ``` block takes priority;
// otherwise it falls back to the substring from the first '{' to the
// last '}', tolerating surrounding prose.
func ExtractJSON(text string) (string, error) {
	if fenced, ok := extractFenced(text); ok {
		return fenced, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("planner: no JSON object found in planner output")
	}
	return text[start : end+1], nil
}

func extractFenced(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if lang == "" || strings.EqualFold(lang, "json") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body, true
}
