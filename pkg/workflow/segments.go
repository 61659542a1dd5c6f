package workflow

import "strings"

type SegmentType string

const (
	SegmentMarkdown  SegmentType = "markdown"
	SegmentComponent SegmentType = "component"
)

// RenderSegment is one renderable slice of answer text: either plain markdown
// or the payload of a recognized component tag.
type RenderSegment struct {
	Type    SegmentType `json:"type"`
	Tag     string      `json:"tag,omitempty"`
	Content string      `json:"content"`
}

// componentTags are the bracket tags the renderer knows how to mount. An
// opening tag without its closing counterpart stays markdown, which keeps
// partially streamed tags inert until they terminate.
var componentTags = []string{
	"IMAGE-GALLERY",
	"VIDEO-PLAYER",
	"CODE-PREVIEW",
}

// Segment splits text into markdown and component segments. It is
// deterministic and idempotent: segmenting the same string always yields the
// same segments.
func Segment(text string) []RenderSegment {
	var segments []RenderSegment
	rest := text
	for {
		tag, start, end := nextComponent(rest)
		if tag == "" {
			break
		}
		open := "[" + tag + "]"
		closing := "[/" + tag + "]"
		if before := rest[:start]; strings.TrimSpace(before) != "" {
			segments = append(segments, RenderSegment{Type: SegmentMarkdown, Content: before})
		}
		content := rest[start+len(open) : end]
		segments = append(segments, RenderSegment{Type: SegmentComponent, Tag: tag, Content: content})
		rest = rest[end+len(closing):]
	}
	if strings.TrimSpace(rest) != "" || len(segments) == 0 {
		segments = append(segments, RenderSegment{Type: SegmentMarkdown, Content: rest})
	}
	return segments
}

// nextComponent finds the earliest complete component tag pair in text and
// returns its tag, the opening tag's offset, and the closing tag's offset.
func nextComponent(text string) (string, int, int) {
	bestTag := ""
	bestStart, bestEnd := -1, -1
	for _, tag := range componentTags {
		open := "[" + tag + "]"
		closing := "[/" + tag + "]"
		start := strings.Index(text, open)
		if start < 0 {
			continue
		}
		end := strings.Index(text[start+len(open):], closing)
		if end < 0 {
			continue
		}
		end += start + len(open)
		if bestStart < 0 || start < bestStart {
			bestTag, bestStart, bestEnd = tag, start, end
		}
	}
	return bestTag, bestStart, bestEnd
}
