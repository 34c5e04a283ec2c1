// internal/notecodec/notecodec.go
// Package notecodec serializes memories to and from git note text.
//
// A block is a YAML front-matter header between "---" fences, a blank
// line, then a markdown body. A single note may hold many blocks,
// appended in capture order and separated by one blank line; the
// segment position within the note is the memory's ordinal.
package notecodec

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/MereWhiplash/gitmem/internal/types"
)

const (
	fence = "---"

	// MaxSummaryChars and MaxContentBytes are the ingress limits.
	// Oversized input is rejected, never truncated.
	MaxSummaryChars = 100
	MaxContentBytes = 100 * 1024

	// maxHeaderDepth bounds YAML nesting in the header, protecting the
	// parser from pathological structures.
	maxHeaderDepth = 4
)

// Meta is the serialized header of one block: the Memory header minus
// RepoPath, which is derived from the note's location.
type Meta struct {
	Namespace types.Namespace `yaml:"type"`
	Timestamp time.Time       `yaml:"timestamp"`
	Summary   string          `yaml:"summary"`
	Spec      string          `yaml:"spec,omitempty"`
	Phase     string          `yaml:"phase,omitempty"`
	Tags      []string        `yaml:"tags,omitempty"`
	Status    types.Status    `yaml:"status,omitempty"`
	RelatesTo []string        `yaml:"relates_to,omitempty"`
}

// Block is one decoded memory block with its position in the note.
type Block struct {
	Meta    Meta
	Body    string
	Ordinal int
}

// DecodeResult carries the blocks of a note plus a count of segments
// that failed to parse and were skipped.
type DecodeResult struct {
	Blocks  []Block
	Skipped int
}

// Limits overrides the ingress caps; zero fields keep the package
// defaults. Configured engines pass their knobs through here.
type Limits struct {
	MaxSummaryChars int
	MaxContentBytes int
}

func (l Limits) summaryChars() int {
	if l.MaxSummaryChars > 0 {
		return l.MaxSummaryChars
	}
	return MaxSummaryChars
}

func (l Limits) contentBytes() int {
	if l.MaxContentBytes > 0 {
		return l.MaxContentBytes
	}
	return MaxContentBytes
}

// Encode renders one block under the default limits. Deterministic:
// field order is fixed, empty optional fields are omitted entirely.
func Encode(meta Meta, body string) (string, error) {
	return EncodeLimited(meta, body, Limits{})
}

// EncodeLimited renders one block, validating against the given limits.
func EncodeLimited(meta Meta, body string, lim Limits) (string, error) {
	if err := ValidateLimited(meta, body, lim); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fence + "\n")
	b.WriteString("type: " + string(meta.Namespace) + "\n")
	b.WriteString("timestamp: " + meta.Timestamp.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("summary: " + yamlScalar(meta.Summary) + "\n")
	if meta.Spec != "" {
		b.WriteString("spec: " + yamlScalar(meta.Spec) + "\n")
	}
	if meta.Phase != "" {
		b.WriteString("phase: " + yamlScalar(meta.Phase) + "\n")
	}
	if len(meta.Tags) > 0 {
		items := make([]string, len(meta.Tags))
		for i, t := range meta.Tags {
			items[i] = yamlScalar(t)
		}
		b.WriteString("tags: [" + strings.Join(items, ", ") + "]\n")
	}
	status := meta.Status
	if status == "" {
		status = types.StatusActive
	}
	b.WriteString("status: " + string(status) + "\n")
	if len(meta.RelatesTo) > 0 {
		b.WriteString("relates_to:\n")
		for _, id := range meta.RelatesTo {
			b.WriteString("  - " + yamlScalar(id) + "\n")
		}
	}
	b.WriteString(fence + "\n")
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// Separator joins blocks within one note.
const Separator = "\n"

// Append concatenates an existing note with a new block, preserving the
// single-blank-line separator convention.
func Append(existing, block string) string {
	existing = strings.TrimRight(existing, "\n")
	if existing == "" {
		return block
	}
	return existing + "\n" + Separator + block
}

// Decode parses every block in a note. Unparseable segments are skipped
// and counted so one bad block cannot hide its siblings. Ordinals are
// assigned by segment position: a skipped segment keeps its slot, so the
// ids of the surviving blocks never shift and always match what capture
// handed out.
func Decode(text string) (DecodeResult, error) {
	if !utf8.ValidString(text) {
		return DecodeResult{}, types.Parse("note is not valid UTF-8",
			"the note was written by another tool; re-capture the memory")
	}
	if strings.TrimSpace(text) == "" {
		return DecodeResult{}, nil
	}

	var res DecodeResult
	for pos, seg := range splitBlocks(text) {
		meta, body, err := decodeOne(seg)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Blocks = append(res.Blocks, Block{Meta: meta, Body: body, Ordinal: pos})
	}
	if len(res.Blocks) == 0 && res.Skipped > 0 {
		return res, types.Parse("no parseable blocks in note",
			"inspect the raw note with `git notes show` and fix the header fences")
	}
	return res, nil
}

// DecodeOne parses a note expected to contain exactly one block.
func DecodeOne(text string) (Meta, string, error) {
	res, err := Decode(text)
	if err != nil {
		return Meta{}, "", err
	}
	if len(res.Blocks) != 1 {
		return Meta{}, "", types.Parse(
			fmt.Sprintf("expected one block, found %d", len(res.Blocks)),
			"use Decode for multi-block notes")
	}
	return res.Blocks[0].Meta, res.Blocks[0].Body, nil
}

// Validate enforces the ingress contract on a block under the default
// limits.
func Validate(meta Meta, body string) error {
	return ValidateLimited(meta, body, Limits{})
}

// ValidateLimited enforces the ingress contract against the given limits.
func ValidateLimited(meta Meta, body string, lim Limits) error {
	if err := meta.Namespace.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(meta.Summary) == "" {
		return types.Validation("summary", "summary is empty", "provide a one-line summary")
	}
	if strings.ContainsAny(meta.Summary, "\n\r") {
		return types.Validation("summary", "summary must be a single line", "remove line breaks")
	}
	if n := utf8.RuneCountInString(meta.Summary); n > lim.summaryChars() {
		return types.Validation("summary",
			fmt.Sprintf("summary is %d chars, limit %d", n, lim.summaryChars()),
			"shorten the summary; details belong in the body")
	}
	if n := len(body); n > lim.contentBytes() {
		return types.Validation("content",
			fmt.Sprintf("content is %d bytes, limit %d", n, lim.contentBytes()),
			"split the memory or trim the body")
	}
	if meta.Timestamp.IsZero() {
		return types.Validation("timestamp", "timestamp is required", "set the capture time")
	}
	if meta.Status != "" && !meta.Status.Valid() {
		return types.Validation("status", fmt.Sprintf("invalid status %q", meta.Status),
			"use active, resolved, aging, archived or tombstone")
	}
	if meta.Spec != "" && !printable(meta.Spec) {
		return types.Validation("spec", "spec contains non-printable characters",
			"use a plain slug like my-project")
	}
	return nil
}

// ToMemory converts a decoded block to a Memory anchored at its location.
func ToMemory(b Block, repoPath, commitSHA string) types.Memory {
	status := b.Meta.Status
	if status == "" {
		status = types.StatusActive
	}
	return types.Memory{
		ID:        types.MemoryID(b.Meta.Namespace, commitSHA, b.Ordinal),
		CommitSHA: commitSHA,
		RepoPath:  repoPath,
		Namespace: b.Meta.Namespace,
		Summary:   b.Meta.Summary,
		Content:   b.Body,
		Timestamp: b.Meta.Timestamp,
		Spec:      b.Meta.Spec,
		Phase:     b.Meta.Phase,
		Tags:      dedupe(b.Meta.Tags),
		Status:    status,
		RelatesTo: b.Meta.RelatesTo,
	}
}

// MetaOf builds the encodable header from a Memory.
func MetaOf(m types.Memory) Meta {
	return Meta{
		Namespace: m.Namespace,
		Timestamp: m.Timestamp,
		Summary:   m.Summary,
		Spec:      m.Spec,
		Phase:     m.Phase,
		Tags:      m.Tags,
		Status:    m.Status,
		RelatesTo: m.RelatesTo,
	}
}

// splitBlocks cuts note text into candidate block segments. A new block
// starts at a fence line that opens a parseable header; fences inside a
// body (horizontal rules) do not split because they are not at a block
// boundary preceded by a blank line or start of note.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var segments []string
	var cur []string

	flush := func() {
		if len(cur) > 0 && strings.TrimSpace(strings.Join(cur, "\n")) != "" {
			segments = append(segments, strings.Join(cur, "\n"))
		}
		cur = nil
	}

	for i, line := range lines {
		if strings.TrimRight(line, " \t\r") == fence && startsHeader(lines, i) {
			atBoundary := i == 0 || len(cur) == 0 || strings.TrimSpace(cur[len(cur)-1]) == ""
			if atBoundary {
				flush()
			}
		}
		cur = append(cur, line)
	}
	flush()
	return segments
}

// startsHeader reports whether the fence at lines[i] opens a header,
// i.e. a closing fence follows and the lines between look like YAML
// mappings rather than prose.
func startsHeader(lines []string, i int) bool {
	for j := i + 1; j < len(lines) && j <= i+64; j++ {
		if strings.TrimRight(lines[j], " \t\r") == fence {
			for _, l := range lines[i+1 : j] {
				t := strings.TrimSpace(l)
				if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "-") {
					continue
				}
				if !strings.Contains(t, ":") {
					return false
				}
			}
			return true
		}
	}
	return false
}

func decodeOne(segment string) (Meta, string, error) {
	s := strings.TrimLeft(segment, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.HasPrefix(s, fence+"\n") && strings.TrimRight(s, " \n") != fence {
		return Meta{}, "", types.Parse("missing front matter fence", "start the block with ---")
	}
	rest := strings.TrimPrefix(s, fence+"\n")
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return Meta{}, "", types.Parse("unterminated front matter", "close the header with ---")
	}
	header := rest[:end]
	body := rest[end+len("\n"+fence):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimRight(body, " \t\n")

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(header), &node); err != nil {
		return Meta{}, "", types.Parse("invalid YAML header: "+err.Error(), "fix the header syntax")
	}
	if depth(&node) > maxHeaderDepth+1 { // +1 for the document node
		return Meta{}, "", types.Parse("header nesting too deep", "flatten the header fields")
	}
	if len(node.Content) > 0 && node.Content[0].Kind != yaml.MappingNode {
		return Meta{}, "", types.Parse("header is not a mapping", "use key: value lines")
	}

	var meta Meta
	if err := node.Decode(&meta); err != nil {
		return Meta{}, "", types.Parse("header fields invalid: "+err.Error(), "fix the header fields")
	}
	if meta.Namespace == "" {
		return Meta{}, "", types.Parse("header missing required field: type", "add a type field")
	}
	if meta.Summary == "" {
		return Meta{}, "", types.Parse("header missing required field: summary", "add a summary field")
	}
	if meta.Timestamp.IsZero() {
		return Meta{}, "", types.Parse("header missing required field: timestamp", "add a timestamp field")
	}
	return meta, body, nil
}

func depth(n *yaml.Node) int {
	max := 0
	for _, c := range n.Content {
		if d := depth(c); d > max {
			max = d
		}
	}
	return max + 1
}

// printable reports whether a string is entirely printable runes, so
// header fields cannot smuggle control characters into the note text.
func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// yamlScalar quotes a scalar when plain YAML would misparse it.
func yamlScalar(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, ":#[]{}&*!|>'\"%@`,") ||
		strings.HasPrefix(s, "- ") || s != strings.TrimSpace(s) {
		return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "yes", "no", "~":
		return `"` + s + `"`
	}
	return s
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
