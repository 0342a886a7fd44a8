// Package desc implements the structured-description format shared by both
// sides of the sync: the key/value tail on Trello card descriptions, the
// "Trello Cards" trailer on GitLab descriptions, and the embedded tracker
// target references.
package desc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Delimiter separates free prose from the structured key/value tail of a
// card description.
const Delimiter = "---"

// TrelloCardsMarker introduces the list of back-linked card URLs on a GitLab
// issue or merge request description.
const TrelloCardsMarker = "### Trello Cards:"

// InitDescription seeds the structured tail of a newly created parent card.
const InitDescription = Delimiter + "\nowner: \nmembers: \ndelivery time: "

// CardDescription is the parsed form of a card description: free prose
// followed by an ordered mapping of unique keys. Encoding is lossless for any
// description previously produced by Encode.
type CardDescription struct {
	text   string
	keys   []string
	values map[string]string
}

// ParseCard splits a raw description on the delimiter line. A description
// without the delimiter parses to an empty structured section.
func ParseCard(raw string) *CardDescription {
	d := &CardDescription{values: make(map[string]string)}

	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	split := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == Delimiter {
			split = i
			break
		}
	}
	if split == -1 {
		d.text = strings.TrimSpace(normalized)
		return d
	}

	d.text = strings.TrimSpace(strings.Join(lines[:split], "\n"))
	for _, line := range lines[split+1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, seen := d.values[key]; !seen {
			d.keys = append(d.keys, key)
		}
		// later duplicates overwrite, position of the first wins
		d.values[key] = strings.TrimSpace(value)
	}
	return d
}

// Text returns the free prose ahead of the delimiter.
func (d *CardDescription) Text() string {
	return d.text
}

// Value returns the value stored under key.
func (d *CardDescription) Value(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// SetValue upserts a scalar key.
func (d *CardDescription) SetValue(key, value string) {
	if _, seen := d.values[key]; !seen {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// DeleteValue removes key and its line from the structured tail. Removing an
// absent key is a no-op.
func (d *CardDescription) DeleteValue(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// SetListValue merges new entries into the comma-joined list stored under
// key, de-duplicating while preserving the order of entries already present.
func (d *CardDescription) SetListValue(key string, entries []string) {
	existing, _ := d.values[key]

	var merged []string
	seen := make(map[string]bool)
	for _, e := range strings.Split(existing, ",") {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		merged = append(merged, e)
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		merged = append(merged, e)
	}

	d.SetValue(key, strings.Join(merged, ", "))
}

// Encode reassembles prose, delimiter and the ordered key/value lines. A
// description with an empty structured section encodes to the bare prose.
func (d *CardDescription) Encode() string {
	if len(d.keys) == 0 {
		return d.text
	}
	lines := make([]string, 0, len(d.keys))
	for _, key := range d.keys {
		lines = append(lines, fmt.Sprintf("%s: %s", key, d.values[key]))
	}
	if d.text == "" {
		return Delimiter + "\n" + strings.Join(lines, "\n")
	}
	return d.text + "\n\n" + Delimiter + "\n" + strings.Join(lines, "\n")
}

// ParseTrackerDescription splits a GitLab description into its body and the
// list of back-linked Trello card URLs in the trailer.
func ParseTrackerDescription(raw string) (string, []string) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	body, trailer, found := strings.Cut(normalized, TrelloCardsMarker)
	body = strings.TrimSpace(body)
	if !found {
		return body, nil
	}

	var urls []string
	for _, line := range strings.Split(trailer, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	return body, urls
}

// EncodeTrackerDescription reassembles a GitLab description. With zero links
// the trailer is omitted entirely and the description degrades to the bare
// body.
func EncodeTrackerDescription(body string, urls []string) string {
	body = strings.TrimSpace(body)
	if len(urls) == 0 {
		return body
	}
	bullets := make([]string, 0, len(urls))
	for _, u := range urls {
		bullets = append(bullets, "* "+u)
	}
	return body + "\n\n" + TrelloCardsMarker + "\n\n" + strings.Join(bullets, "\n")
}

// TargetRef is a tracker target referenced from a card description as
// $GLIS:<project>:<iid> or $GLMR:<project>:<iid>.
type TargetRef struct {
	Kind      string // "issue" or "merge_request"
	ProjectID string
	TargetIID string
}

var (
	targetBlockRe = regexp.MustCompile(`(?s)<\n(.+?)\n>`)
	targetRefRe   = regexp.MustCompile(`\$(GLIS|GLMR):(\d+):(\d+)`)
	mentionRe     = regexp.MustCompile(`@([.\w-]+)`)
	listNumRe     = regexp.MustCompile(`\(#(\d+)\)`)
)

// ParseTargets extracts tracker target references from the < ... > block of a
// card's free text.
func ParseTargets(text string) []TargetRef {
	block := targetBlockRe.FindStringSubmatch(strings.ReplaceAll(text, "\r\n", "\n"))
	if block == nil {
		return nil
	}

	var refs []TargetRef
	for _, m := range targetRefRe.FindAllStringSubmatch(block[1], -1) {
		kind := "issue"
		if m[1] == "GLMR" {
			kind = "merge_request"
		}
		refs = append(refs, TargetRef{
			Kind:      kind,
			ProjectID: m[2],
			TargetIID: m[3],
		})
	}
	return refs
}

// ParseMentions extracts @username tokens from free text.
func ParseMentions(text string) []string {
	var mentions []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, m[1])
	}
	return mentions
}

// ListProgress extracts the (#NN) completion marker from a Trello list name.
func ListProgress(listName string) (int, bool) {
	m := listNumRe.FindStringSubmatch(listName)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

// ItemTitle derives the checklist item title for a mirrored card: completion
// percentage when known, source URL, originating list name.
func ItemTitle(percent int, hasPercent bool, url, listName string) string {
	if hasPercent {
		return fmt.Sprintf("(%d%%) %s (%s)", percent, url, listName)
	}
	return fmt.Sprintf("%s (%s)", url, listName)
}
