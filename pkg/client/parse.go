package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	reListMarker    = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// SanitizeModelJSON removes code fences, comments and trailing commas that vision
// models like to wrap around JSON answers.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")
	return strings.TrimSpace(raw)
}

// ParseLabelResult reads a model answer into candidate labels. It accepts a JSON
// object with "labels", "label" or "text", a bare JSON array, or plain text with
// one candidate per line or comma. It never fails; an empty answer yields no labels.
func ParseLabelResult(raw string) *types.LabelResult {
	clean := SanitizeModelJSON(raw)

	if start := strings.Index(clean, "{"); start >= 0 {
		if end := strings.LastIndex(clean, "}"); end > start {
			var obj struct {
				Labels []string `json:"labels"`
				Label  string   `json:"label"`
				Text   string   `json:"text"`
			}
			if err := json.Unmarshal([]byte(clean[start:end+1]), &obj); err == nil {
				labels := obj.Labels
				if obj.Label != "" {
					labels = append([]string{obj.Label}, labels...)
				}
				if len(labels) == 0 && obj.Text != "" {
					labels = []string{obj.Text}
				}
				return &types.LabelResult{Labels: labels, Text: obj.Text}
			}
		}
	}

	if start := strings.Index(clean, "["); start >= 0 {
		if end := strings.LastIndex(clean, "]"); end > start {
			var arr []string
			if err := json.Unmarshal([]byte(clean[start:end+1]), &arr); err == nil {
				return &types.LabelResult{Labels: arr}
			}
		}
	}

	var labels []string
	for _, line := range strings.Split(clean, "\n") {
		for _, part := range strings.Split(line, ",") {
			part = strings.Trim(reListMarker.ReplaceAllString(part, ""), " \t\"'.")
			if part != "" {
				labels = append(labels, part)
			}
		}
	}
	return &types.LabelResult{Labels: labels, Text: strings.TrimSpace(raw)}
}
