// Package telegram is a Transport adapter for the Telegram Bot API. It
// long-polls getUpdates for inbound messages and delivers room events with
// sendMessage. One Channel instance serves one bot token.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	parley "github.com/parley-go/parley"
)

const (
	// maxMessageLength is Telegram's hard cap per message.
	maxMessageLength = 4096

	defaultBaseURL = "https://api.telegram.org"
	pollTimeout    = 30 // seconds, long-poll window
)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the structured logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.http = hc }
}

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *Channel) { c.baseURL = strings.TrimRight(url, "/") }
}

// Channel adapts a Telegram bot to the pipeline. The chat id travels as the
// binding's ParticipantID and the sender id as the message ExternalID, so
// identity resolution and room routing work per chat out of the box.
type Channel struct {
	id      string
	token   string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a Telegram channel with the given unique channel id and bot
// token.
func New(id, token string, opts ...Option) *Channel {
	c := &Channel{
		id:      id,
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{},
		logger:  slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) ID() string              { return c.id }
func (c *Channel) ChannelType() string     { return "telegram" }
func (c *Channel) Category() parley.Category { return parley.CategoryTransport }
func (c *Channel) Direction() parley.Direction {
	return parley.DirectionBidirectional
}

// Capabilities declares text with Telegram's 4096-char cap. Everything else
// is downgraded by the router's transcoder before Deliver sees it.
func (c *Channel) Capabilities() parley.Capabilities {
	return parley.Capabilities{
		Content:   []parley.ContentKind{parley.KindText},
		MaxLength: maxMessageLength,
	}
}

// HandleInbound converts a raw inbound message into the canonical event.
// Poll produces the InboundMessage; hosts that receive webhooks instead can
// build one themselves and call Orchestrator.ProcessInbound directly.
func (c *Channel) HandleInbound(_ context.Context, msg parley.InboundMessage, _ parley.RoomContext) (parley.RoomEvent, error) {
	return parley.RoomEvent{
		Type:    parley.EventMessage,
		Content: msg.Content,
		Source: parley.EventSource{
			ChannelID:     c.id,
			ChannelType:   "telegram",
			Direction:     parley.DirectionInbound,
			ParticipantID: msg.ParticipantID,
			ExternalID:    msg.ExternalID,
		},
		Metadata: msg.Metadata,
	}, nil
}

// Deliver sends the event's text to the binding's chat, splitting past the
// 4096-char cap on newline boundaries.
func (c *Channel) Deliver(ctx context.Context, ev parley.RoomEvent, b parley.ChannelBinding, _ parley.RoomContext) error {
	chatID := b.ParticipantID
	if chatID == "" {
		return fmt.Errorf("telegram: binding %s has no chat id", b.ChannelID)
	}
	for _, chunk := range splitMessage(ev.Content.Text) {
		body := map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}
		if err := c.call(ctx, "sendMessage", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendTyping shows the typing indicator in a chat. Wire it to the realtime
// bus to mirror EphemeralTypingStart events outward.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// Close stops the poll loop if one is running.
func (c *Channel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// ProcessFunc consumes one converted inbound message, typically
// Orchestrator.ProcessInbound wrapped by the host.
type ProcessFunc func(ctx context.Context, msg parley.InboundMessage) error

// Poll long-polls getUpdates and feeds each message to process. Blocks
// until ctx is cancelled; API errors are logged and polling continues.
func (c *Channel) Poll(ctx context.Context, process ProcessFunc) error {
	ctx, c.cancel = context.WithCancel(ctx)
	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("telegram poll failed", "error", err)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			msg := c.toInbound(u.Message)
			if err := process(ctx, msg); err != nil {
				c.logger.Error("inbound processing failed",
					"chat_id", msg.ParticipantID, "error", err)
			}
		}
	}
}

func (c *Channel) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         pollTimeout,
		"allowed_updates": []string{"message"},
	}
	var out []update
	if err := c.call(ctx, "getUpdates", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// toInbound maps a Telegram message onto the pipeline's inbound shape. The
// update id doubles as the idempotency key so redelivered updates are
// deduplicated by the store.
func (c *Channel) toInbound(m *tgMessage) parley.InboundMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := parley.InboundMessage{
		ChannelID:      c.id,
		ChannelType:    "telegram",
		ParticipantID:  strconv.FormatInt(m.Chat.ID, 10),
		IdempotencyKey: fmt.Sprintf("tg-%d-%d", m.Chat.ID, m.MessageID),
		Content:        parley.TextContent(text),
	}
	if m.From != nil {
		msg.ExternalID = strconv.FormatInt(m.From.ID, 10)
	}
	if m.Document != nil || len(m.Photo) > 0 {
		msg.Metadata = map[string]any{}
		if m.Document != nil {
			msg.Metadata["document_file_id"] = m.Document.FileID
			msg.Metadata["document_name"] = m.Document.FileName
		}
		if len(m.Photo) > 0 {
			// largest size is last
			msg.Metadata["photo_file_id"] = m.Photo[len(m.Photo)-1].FileID
		}
	}
	return msg
}

// call posts JSON to a Bot API method and decodes the result envelope.
func (c *Channel) call(ctx context.Context, method string, reqBody any, result any) error {
	url := c.baseURL + "/bot" + c.token + "/" + method
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !envelope.OK {
		return &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

// APIError is a non-ok Bot API response.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// splitMessage splits text into chunks within the 4096-char cap, preferring
// newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}
		window := remaining[:maxMessageLength]
		splitPos := strings.LastIndex(window, "\n")
		if splitPos == -1 {
			splitPos = maxMessageLength
		} else {
			splitPos++
		}
		chunks = append(chunks, remaining[:splitPos])
		remaining = remaining[splitPos:]
	}
	return chunks
}

// --- wire types ---

type update struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message,omitempty"`
}

type tgMessage struct {
	MessageID int64       `json:"message_id"`
	From      *tgUser     `json:"from,omitempty"`
	Chat      tgChat      `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Document  *tgDocument `json:"document,omitempty"`
	Photo     []tgPhoto   `json:"photo,omitempty"`
}

type tgUser struct {
	ID int64 `json:"id"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type tgPhoto struct {
	FileID string `json:"file_id"`
}

// discardHandler is a no-op slog handler.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

var _ parley.Transport = (*Channel)(nil)
