package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegment_PlainMarkdown(t *testing.T) {
	segments := Segment("hello **world**")
	require.Len(t, segments, 1)
	require.Equal(t, SegmentMarkdown, segments[0].Type)
	require.Equal(t, "hello **world**", segments[0].Content)
}

func TestSegment_ComponentExtraction(t *testing.T) {
	text := "intro\n[IMAGE-GALLERY]img1.png,img2.png[/IMAGE-GALLERY]\noutro"
	segments := Segment(text)

	require.Len(t, segments, 3)
	require.Equal(t, SegmentMarkdown, segments[0].Type)
	require.Equal(t, SegmentComponent, segments[1].Type)
	require.Equal(t, "IMAGE-GALLERY", segments[1].Tag)
	require.Equal(t, "img1.png,img2.png", segments[1].Content)
	require.Equal(t, SegmentMarkdown, segments[2].Type)
}

func TestSegment_UnterminatedTagStaysMarkdown(t *testing.T) {
	// mid-stream: the closing tag has not arrived yet
	text := "look at this [VIDEO-PLAYER]clip.mp4"
	segments := Segment(text)
	require.Len(t, segments, 1)
	require.Equal(t, SegmentMarkdown, segments[0].Type)
	require.Equal(t, text, segments[0].Content)
}

func TestSegment_MultipleComponents(t *testing.T) {
	text := "[CODE-PREVIEW]a[/CODE-PREVIEW][VIDEO-PLAYER]b[/VIDEO-PLAYER]"
	segments := Segment(text)
	require.Len(t, segments, 2)
	require.Equal(t, "CODE-PREVIEW", segments[0].Tag)
	require.Equal(t, "VIDEO-PLAYER", segments[1].Tag)
}

func TestSegment_Idempotent(t *testing.T) {
	texts := []string{
		"plain",
		"",
		"a [IMAGE-GALLERY]x[/IMAGE-GALLERY] b",
		"[VIDEO-PLAYER]v[/VIDEO-PLAYER]",
		"dangling [CODE-PREVIEW]half",
	}
	for _, text := range texts {
		first := Segment(text)
		second := Segment(text)
		require.Equal(t, first, second, "segmentation of %q is unstable", text)
	}
}

func TestSegment_EmptyInputYieldsSingleMarkdownSegment(t *testing.T) {
	segments := Segment("")
	require.Len(t, segments, 1)
	require.Equal(t, SegmentMarkdown, segments[0].Type)
}
