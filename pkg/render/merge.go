package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/openscaffold/openscaffold/pkg/manifest"
)

// Section markers delimit merge-section blocks inside shared aggregator
// files. Blocks are keyed by section ID, so insertion order between
// independent writers does not matter.
const (
	sectionBeginFormat = "# >>> scaffold:%s >>>"
	sectionEndFormat   = "# <<< scaffold:%s <<<"
)

// Merge computes the new file content for an artifact given the existing
// content (nil when the target file does not exist yet).
func Merge(existing []byte, a *Artifact) ([]byte, error) {
	switch a.Strategy {
	case manifest.MergeOverwrite:
		return a.Content, nil

	case manifest.MergeAppend:
		return mergeAppend(existing, a.Content), nil

	case manifest.MergeSection:
		return UpsertSection(existing, a.SectionID, a.Content), nil

	default:
		return nil, fmt.Errorf("unknown merge strategy %q for %s", a.Strategy, a.TargetPath)
	}
}

// mergeAppend appends content to the existing file. Appending is
// idempotent: content already present verbatim is not duplicated.
func mergeAppend(existing, content []byte) []byte {
	if len(existing) == 0 {
		return content
	}
	if bytes.Contains(existing, bytes.TrimRight(content, "\n")) {
		return existing
	}

	out := make([]byte, 0, len(existing)+len(content)+1)
	out = append(out, existing...)
	if !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	return append(out, content...)
}

// SectionBlock wraps content in begin/end markers for the given section.
func SectionBlock(sectionID string, content []byte) []byte {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(sectionBeginFormat, sectionID))
	sb.WriteString("\n")
	sb.Write(content)
	if !bytes.HasSuffix(content, []byte("\n")) {
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf(sectionEndFormat, sectionID))
	sb.WriteString("\n")
	return []byte(sb.String())
}

// UpsertSection inserts the section block into the existing content, or
// replaces the block in place when a block with the same section ID is
// already present.
func UpsertSection(existing []byte, sectionID string, content []byte) []byte {
	block := SectionBlock(sectionID, content)

	begin, end, found := sectionBounds(existing, sectionID)
	if !found {
		if len(existing) == 0 {
			return block
		}
		out := make([]byte, 0, len(existing)+len(block)+1)
		out = append(out, existing...)
		if !bytes.HasSuffix(out, []byte("\n")) {
			out = append(out, '\n')
		}
		return append(out, block...)
	}

	out := make([]byte, 0, len(existing)-(end-begin)+len(block))
	out = append(out, existing[:begin]...)
	out = append(out, block...)
	return append(out, existing[end:]...)
}

// ExtractSection returns the inner content of the named section block,
// without markers, and whether the block exists.
func ExtractSection(existing []byte, sectionID string) ([]byte, bool) {
	begin, end, found := sectionBounds(existing, sectionID)
	if !found {
		return nil, false
	}

	block := existing[begin:end]
	lines := bytes.SplitN(block, []byte("\n"), 2)
	if len(lines) < 2 {
		return nil, true
	}
	inner := lines[1]
	if idx := bytes.LastIndex(inner, []byte(fmt.Sprintf(sectionEndFormat, sectionID))); idx >= 0 {
		inner = inner[:idx]
	}
	return inner, true
}

// sectionBounds locates the byte range [begin, end) of a section block,
// including its markers and the trailing newline of the end marker.
func sectionBounds(existing []byte, sectionID string) (int, int, bool) {
	beginMarker := []byte(fmt.Sprintf(sectionBeginFormat, sectionID))
	endMarker := []byte(fmt.Sprintf(sectionEndFormat, sectionID))

	begin := bytes.Index(existing, beginMarker)
	if begin < 0 {
		return 0, 0, false
	}

	endIdx := bytes.Index(existing[begin:], endMarker)
	if endIdx < 0 {
		// Begin marker without end marker: treat the block as running to
		// the end of the file so a rewrite repairs it.
		return begin, len(existing), true
	}

	end := begin + endIdx + len(endMarker)
	if end < len(existing) && existing[end] == '\n' {
		end++
	}
	return begin, end, true
}
