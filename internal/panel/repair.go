// Package panel implements the provider adapter layer, the panel
// orchestrator, and the deterministic aggregator: everything between
// an enriched claim and its PanelResult.
package panel

import (
	"regexp"
	"strings"
)

// The repairer's rewrite rules, applied in order. Each targets one
// malformation LLMs commonly emit in place of strict JSON.
var (
	lineComments   = regexp.MustCompile(`(?m)^\s*//[^\n]*$|([,{\[\s])//[^\n]*`)
	blockComments  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
	repeatedCommas = regexp.MustCompile(`,(\s*,)+`)
	quotePairs     = regexp.MustCompile(`"\s+"`)
	objectSeams    = regexp.MustCompile(`}\s*{`)
	arraySeams     = regexp.MustCompile(`]\s*\[`)
	literalThenKey = regexp.MustCompile(`(\d|\btrue|\bfalse|\bnull)\s+"`)
)

// RepairJSON applies the tolerant rewrite rules to almost-JSON text.
// It is a pure function; callers re-parse the result.
func RepairJSON(text string) string {
	out := lineComments.ReplaceAllString(text, "$1")
	out = blockComments.ReplaceAllString(out, "")
	out = trailingCommas.ReplaceAllString(out, "$1")
	out = repeatedCommas.ReplaceAllString(out, ",")
	out = quotePairs.ReplaceAllString(out, `", "`)
	out = objectSeams.ReplaceAllString(out, "},{")
	out = arraySeams.ReplaceAllString(out, "],[")
	out = literalThenKey.ReplaceAllString(out, `$1, "`)
	return strings.TrimSpace(out)
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// StripCodeFences unwraps a markdown-fenced block, returning the
// inner text, or the trimmed input when no fence is present.
func StripCodeFences(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
