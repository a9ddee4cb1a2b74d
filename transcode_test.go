package parley

import (
	"errors"
	"testing"
)

func TestTranscodeSupportedKindPassesUnchanged(t *testing.T) {
	caps := Capabilities{Content: []ContentKind{KindText, KindMedia}}
	media := MediaContent("https://cdn.example/a.png", "image/png", "a photo")
	got, err := Transcode(media, caps)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if got.Kind != KindMedia || got.URL != media.URL {
		t.Errorf("media passed through mangled: %+v", got)
	}
}

func TestTranscodeNoTextSupport(t *testing.T) {
	caps := Capabilities{Content: []ContentKind{KindMedia}}
	if _, err := Transcode(TextContent("hi"), caps); !errors.Is(err, ErrNotTranscodable) {
		t.Errorf("err = %v, want ErrNotTranscodable", err)
	}
}

func TestTranscodeDowngradesToText(t *testing.T) {
	caps := TextCapabilities()
	cases := []struct {
		name    string
		content Content
		want    string
	}{
		{"rich with fallback", RichContent("<b>hi</b>", "hi"), "hi"},
		{"media with caption", MediaContent("https://x/a.png", "image/png", "a photo"), "a photo https://x/a.png"},
		{"media without caption", MediaContent("https://x/a.png", "image/png", ""), "https://x/a.png"},
		{"location with label", LocationContent(48.85, 2.35, "Paris"), "[Location: Paris (48.85, 2.35)]"},
		{"location without label", LocationContent(48.85, 2.35, ""), "[Location: (48.85, 2.35)]"},
		{"audio with transcript", AudioContent("https://x/a.ogg", "hello there"), "hello there"},
		{"audio without transcript", AudioContent("https://x/a.ogg", ""), "[Voice message]"},
		{"video", VideoContent("https://x/v.mp4", ""), "[Video: https://x/v.mp4]"},
		{"template with body", TemplateContent("welcome", nil, "Welcome, Sam!"), "Welcome, Sam!"},
		{"composite", CompositeContent(TextContent("one"), AudioContent("u", "")), "one\n[Voice message]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transcode(tc.content, caps)
			if err != nil {
				t.Fatalf("transcode: %v", err)
			}
			if got.Kind != KindText {
				t.Fatalf("kind = %s, want text", got.Kind)
			}
			if got.Text != tc.want {
				t.Errorf("text = %q, want %q", got.Text, tc.want)
			}
		})
	}
}

func TestTranscodeUntranscodableKinds(t *testing.T) {
	caps := TextCapabilities()
	cases := []struct {
		name    string
		content Content
	}{
		{"rich without fallback", RichContent("<b>hi</b>", "")},
		{"template without body", TemplateContent("welcome", nil, "")},
		{"system", SystemContent("room_closed", nil)},
		{"composite with bad part", CompositeContent(TextContent("ok"), SystemContent("x", nil))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Transcode(tc.content, caps); !errors.Is(err, ErrNotTranscodable) {
				t.Errorf("err = %v, want ErrNotTranscodable", err)
			}
		})
	}
}

func TestTranscodeCompositeDepthLimit(t *testing.T) {
	nested := TextContent("leaf")
	for i := 0; i < MaxCompositeDepth+1; i++ {
		nested = CompositeContent(nested)
	}
	if _, err := Transcode(nested, TextCapabilities()); !errors.Is(err, ErrNotTranscodable) {
		t.Errorf("deep composite err = %v, want ErrNotTranscodable", err)
	}

	shallow := CompositeContent(CompositeContent(TextContent("leaf")))
	got, err := Transcode(shallow, TextCapabilities())
	if err != nil {
		t.Fatalf("shallow composite: %v", err)
	}
	if got.Text != "leaf" {
		t.Errorf("text = %q, want leaf", got.Text)
	}
}

func TestTruncateText(t *testing.T) {
	got := TruncateText(TextContent("hello world"), 5)
	if got.Text != "hell…" {
		t.Errorf("truncated = %q, want hell…", got.Text)
	}
	if got := TruncateText(TextContent("short"), 10); got.Text != "short" {
		t.Errorf("under-limit text changed: %q", got.Text)
	}
	// rune-aware, not byte-aware
	got = TruncateText(TextContent("héllo wörld"), 5)
	if runes := []rune(got.Text); len(runes) != 5 {
		t.Errorf("truncated rune count = %d, want 5", len(runes))
	}
	// non-text passes unchanged
	media := MediaContent("u", "image/png", "very long caption here")
	if got := TruncateText(media, 3); got.Text != media.Text {
		t.Errorf("non-text content truncated: %q", got.Text)
	}
}
