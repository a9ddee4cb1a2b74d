package parley

import (
	"fmt"
	"strings"
)

// Transcode converts content into a value the target capabilities can
// render. Content of a supported kind passes unchanged. Everything else is
// downgraded to text when the target supports text; composites are
// transcoded part by part and flattened. Content that cannot be expressed
// returns ErrNotTranscodable.
func Transcode(content Content, caps Capabilities) (Content, error) {
	if caps.Supports(content.Kind) {
		return content, nil
	}
	if !caps.Supports(KindText) {
		return Content{}, ErrNotTranscodable
	}
	text, err := renderText(content, 0)
	if err != nil {
		return Content{}, err
	}
	return TextContent(text), nil
}

// renderText is the text downgrade for a single content value.
func renderText(content Content, depth int) (string, error) {
	switch content.Kind {
	case KindText:
		return content.Text, nil
	case KindRich:
		if content.Text != "" {
			return content.Text, nil
		}
		return "", ErrNotTranscodable
	case KindMedia:
		if content.Text != "" {
			return content.Text + " " + content.URL, nil
		}
		return content.URL, nil
	case KindLocation:
		if content.Label != "" {
			return fmt.Sprintf("[Location: %s (%g, %g)]", content.Label, content.Lat, content.Lon), nil
		}
		return fmt.Sprintf("[Location: (%g, %g)]", content.Lat, content.Lon), nil
	case KindAudio:
		if content.Transcript != "" {
			return content.Transcript, nil
		}
		return "[Voice message]", nil
	case KindVideo:
		return fmt.Sprintf("[Video: %s]", content.URL), nil
	case KindComposite:
		if depth >= MaxCompositeDepth {
			return "", ErrNotTranscodable
		}
		parts := make([]string, 0, len(content.Parts))
		for _, p := range content.Parts {
			s, err := renderText(p, depth+1)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), nil
	case KindTemplate:
		if content.Text != "" {
			return content.Text, nil
		}
		return "", ErrNotTranscodable
	default:
		// system and unrecognized kinds have no text form
		return "", ErrNotTranscodable
	}
}

// TruncateText shortens text content to at most limit runes, appending an
// ellipsis when trimmed. Non-text content passes unchanged.
func TruncateText(content Content, limit int) Content {
	if content.Kind != KindText || limit <= 0 {
		return content
	}
	runes := []rune(content.Text)
	if len(runes) <= limit {
		return content
	}
	if limit <= 1 {
		return TextContent(string(runes[:limit]))
	}
	return TextContent(string(runes[:limit-1]) + "…")
}
