package parley

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidthChars are Unicode zero-width and invisible characters used for obfuscation.
var zeroWidthChars = strings.NewReplacer(
	"\u200b", " ", // zero-width space
	"\u200c", " ", // zero-width non-joiner
	"\u200d", " ", // zero-width joiner
	"\ufeff", " ", // zero-width no-break space (BOM)
	"\u2060", " ", // word joiner
	"\u180e", " ", // Mongolian vowel separator
	"\u00ad", "", // soft hyphen (removed, not replaced)
)

// KeywordBlocker is a prebuilt sync before_broadcast hook that blocks
// events whose text contains any of the given keywords (case-insensitive
// substring) or matches a regex. Obfuscation is neutralized before
// matching: zero-width characters are stripped and the text is NFKC
// normalized (fullwidth Latin, mathematical alphanumerics, ligatures).
// Safe for concurrent use.
type KeywordBlocker struct {
	keywords []string
	regexes  []*regexp.Regexp
	reason   string
	logger   *slog.Logger
}

// NewKeywordBlocker creates a blocker for the given keywords.
func NewKeywordBlocker(keywords ...string) *KeywordBlocker {
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &KeywordBlocker{
		keywords: lower,
		reason:   "blocked_content",
		logger:   nopLogger,
	}
}

// WithRegex adds regex patterns.
// Returns the blocker for builder-style chaining.
func (g *KeywordBlocker) WithRegex(patterns ...*regexp.Regexp) *KeywordBlocker {
	g.regexes = append(g.regexes, patterns...)
	return g
}

// WithReason sets the block reason recorded on the event.
// Returns the blocker for builder-style chaining.
func (g *KeywordBlocker) WithReason(reason string) *KeywordBlocker {
	g.reason = reason
	return g
}

// WithLogger sets the structured logger. When set, blocked events are
// logged at WARN level with the matched keyword.
// Returns the blocker for builder-style chaining.
func (g *KeywordBlocker) WithLogger(l *slog.Logger) *KeywordBlocker {
	g.logger = l
	return g
}

// Hook returns the HookFunc to register on TriggerBeforeBroadcast.
func (g *KeywordBlocker) Hook() HookFunc {
	return func(_ context.Context, ev RoomEvent, _ RoomContext) (HookDecision, error) {
		text := eventText(ev.Content)
		if text == "" {
			return Allow(), nil
		}
		cleaned := zeroWidthChars.Replace(text)
		cleaned = norm.NFKC.String(cleaned)
		lower := strings.ToLower(cleaned)
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				g.logger.Warn("keyword blocked", "room_id", ev.RoomID, "keyword", kw)
				return Block(g.reason), nil
			}
		}
		for _, re := range g.regexes {
			if re.MatchString(cleaned) {
				g.logger.Warn("regex pattern blocked", "room_id", ev.RoomID, "pattern", re.String())
				return Block(g.reason), nil
			}
		}
		return Allow(), nil
	}
}

// LengthLimiter is a prebuilt sync before_broadcast hook that truncates
// text content past max runes. This guard trims rather than blocks.
type LengthLimiter struct {
	max int
}

// NewLengthLimiter creates a limiter for text content of at most max runes.
func NewLengthLimiter(max int) *LengthLimiter {
	return &LengthLimiter{max: max}
}

// Hook returns the HookFunc to register on TriggerBeforeBroadcast.
func (g *LengthLimiter) Hook() HookFunc {
	return func(_ context.Context, ev RoomEvent, _ RoomContext) (HookDecision, error) {
		if g.max <= 0 || ev.Content.Kind != KindText {
			return Allow(), nil
		}
		if len([]rune(ev.Content.Text)) <= g.max {
			return Allow(), nil
		}
		ev.Content = TruncateText(ev.Content, g.max)
		return AllowModified(ev), nil
	}
}

// eventText extracts the matchable text of a content value: the body for
// text, the fallback for rich, captions and transcripts for media kinds,
// and the concatenation of parts for composites.
func eventText(c Content) string {
	switch c.Kind {
	case KindText, KindRich, KindMedia, KindTemplate:
		return c.Text
	case KindAudio:
		return c.Transcript
	case KindComposite:
		var b strings.Builder
		for _, p := range c.Parts {
			if s := eventText(p); s != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(s)
			}
		}
		return b.String()
	default:
		return ""
	}
}
