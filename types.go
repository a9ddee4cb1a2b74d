package parley

// --- Rooms ---

// RoomStatus is the lifecycle state of a Room.
type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomPaused   RoomStatus = "paused"
	RoomClosed   RoomStatus = "closed"
	RoomArchived RoomStatus = "archived"
)

// RoomTimers holds optional inactivity timers, expressed in seconds.
// Zero disables the corresponding timer.
type RoomTimers struct {
	// InactiveAfter pauses the room after this many seconds without activity.
	InactiveAfter int64 `json:"inactive_after,omitempty"`
	// ClosedAfter closes the room after this many seconds without activity.
	ClosedAfter int64 `json:"closed_after,omitempty"`
}

// Room is a shared conversational container and the unit of serialization.
// Once Status is RoomClosed, inbound events addressed to it are rejected
// at routing.
type Room struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Status         RoomStatus     `json:"status"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	ClosedAt       int64          `json:"closed_at,omitempty"`
	Timers         RoomTimers     `json:"timers"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// EventCount is the number of stored events in the room.
	EventCount int `json:"event_count"`
	// LatestIndex is the index of the most recent event, -1 for an empty room.
	LatestIndex int64 `json:"latest_index"`
}

// --- Events ---

// EventType classifies a RoomEvent.
type EventType string

const (
	EventMessage           EventType = "message"
	EventSystem            EventType = "system"
	EventTyping            EventType = "typing"
	EventReadReceipt       EventType = "read_receipt"
	EventDeliveryReceipt   EventType = "delivery_receipt"
	EventPresence          EventType = "presence"
	EventReaction          EventType = "reaction"
	EventEdit              EventType = "edit"
	EventDelete            EventType = "delete"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventChannelAttached   EventType = "channel_attached"
	EventChannelDetached   EventType = "channel_detached"
	EventTaskCreated       EventType = "task_created"
	EventObservation       EventType = "observation"
)

// EventStatus is the delivery state of a RoomEvent.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusDelivered EventStatus = "delivered"
	StatusRead      EventStatus = "read"
	StatusFailed    EventStatus = "failed"
	StatusBlocked   EventStatus = "blocked"
)

// Direction describes which way messages flow on a channel.
type Direction string

const (
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// Visibility sentinel values. A Visibility field may also be a single
// channel id or a comma-separated set of channel ids.
const (
	VisibilityAll          = "all"
	VisibilityNone         = "none"
	VisibilityTransport    = "transport"
	VisibilityIntelligence = "intelligence"
)

// BlockedByChainDepth is the BlockedBy value for reentry events that
// exceeded the configured chain depth.
const BlockedByChainDepth = "event_chain_depth_limit"

// EventSource identifies where a RoomEvent came from.
type EventSource struct {
	ChannelID     string    `json:"channel_id"`
	ChannelType   string    `json:"channel_type"`
	Direction     Direction `json:"direction"`
	ParticipantID string    `json:"participant_id,omitempty"`
	ExternalID    string    `json:"external_id,omitempty"`
}

// RoomEvent is an immutable record of something that happened in a room.
// Index is monotone and gap-free per room, assigned under the room's
// exclusive section. ChainDepth is the reentry generation: 0 for externally
// triggered events, incremented for each intelligence-produced generation.
type RoomEvent struct {
	ID             string         `json:"id"`
	RoomID         string         `json:"room_id"`
	Type           EventType      `json:"type"`
	Source         EventSource    `json:"source"`
	Content        Content        `json:"content"`
	Status         EventStatus    `json:"status"`
	BlockedBy      string         `json:"blocked_by,omitempty"`
	Visibility     string         `json:"visibility"`
	Index          int64          `json:"index"`
	ChainDepth     int            `json:"chain_depth"`
	ParentEventID  string         `json:"parent_event_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MetaAlwaysProcess is the metadata key that re-includes the originating
// binding as a broadcast target (normally the source never receives its
// own event).
const MetaAlwaysProcess = "_always_process"

// AlwaysProcess reports whether the event opted into source delivery.
func (e RoomEvent) AlwaysProcess() bool {
	v, ok := e.Metadata[MetaAlwaysProcess].(bool)
	return ok && v
}

// --- Content (tagged union) ---

// ContentKind discriminates the Content union.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindRich      ContentKind = "rich"
	KindMedia     ContentKind = "media"
	KindLocation  ContentKind = "location"
	KindAudio     ContentKind = "audio"
	KindVideo     ContentKind = "video"
	KindComposite ContentKind = "composite"
	KindSystem    ContentKind = "system"
	KindTemplate  ContentKind = "template"
)

// MaxCompositeDepth bounds nesting of composite content parts.
const MaxCompositeDepth = 5

// Button is an interactive element of rich content.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
	URL   string `json:"url,omitempty"`
}

// Card is a structured element of rich content.
type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Content is a tagged union discriminated by Kind. Only the fields of the
// active variant are meaningful. Each variant carries enough to losslessly
// render on any channel advertising the corresponding capability; Transcode
// downgrades a variant for channels that do not.
type Content struct {
	Kind ContentKind `json:"kind"`

	// Text is the body (text), the plain-text fallback (rich), the caption
	// (media), or the rendered body (template).
	Text string `json:"text,omitempty"`

	// rich
	HTML         string   `json:"html,omitempty"`
	Buttons      []Button `json:"buttons,omitempty"`
	Cards        []Card   `json:"cards,omitempty"`
	QuickReplies []string `json:"quick_replies,omitempty"`

	// media / audio / video
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// location
	Lat   float64 `json:"lat,omitempty"`
	Lon   float64 `json:"lon,omitempty"`
	Label string  `json:"label,omitempty"`

	// audio
	Transcript string `json:"transcript,omitempty"`

	// video
	Thumbnail string `json:"thumbnail,omitempty"`

	// composite
	Parts []Content `json:"parts,omitempty"`

	// system
	Code string         `json:"code,omitempty"`
	Data map[string]any `json:"data,omitempty"`

	// template
	TemplateID string            `json:"template_id,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// --- Content constructors ---

func TextContent(text string) Content {
	return Content{Kind: KindText, Text: text}
}

func RichContent(html, fallback string) Content {
	return Content{Kind: KindRich, HTML: html, Text: fallback}
}

func MediaContent(url, mimeType, caption string) Content {
	return Content{Kind: KindMedia, URL: url, MimeType: mimeType, Text: caption}
}

func LocationContent(lat, lon float64, label string) Content {
	return Content{Kind: KindLocation, Lat: lat, Lon: lon, Label: label}
}

func AudioContent(url, transcript string) Content {
	return Content{Kind: KindAudio, URL: url, Transcript: transcript}
}

func VideoContent(url, thumbnail string) Content {
	return Content{Kind: KindVideo, URL: url, Thumbnail: thumbnail}
}

func CompositeContent(parts ...Content) Content {
	return Content{Kind: KindComposite, Parts: parts}
}

func SystemContent(code string, data map[string]any) Content {
	return Content{Kind: KindSystem, Code: code, Data: data}
}

func TemplateContent(id string, params map[string]string, body string) Content {
	return Content{Kind: KindTemplate, TemplateID: id, Params: params, Text: body}
}

// --- Bindings ---

// Category separates channels that deliver events outward (transport) from
// channels that react to events by producing new ones (intelligence).
type Category string

const (
	CategoryTransport    Category = "transport"
	CategoryIntelligence Category = "intelligence"
)

// Access is the read/write permission of a binding within its room.
type Access string

const (
	AccessReadWrite Access = "read_write"
	AccessReadOnly  Access = "read_only"
	AccessWriteOnly Access = "write_only"
	AccessNone      Access = "none"
)

// CanRead reports whether the access level permits receiving events.
func (a Access) CanRead() bool { return a == AccessReadWrite || a == AccessReadOnly }

// CanWrite reports whether the access level permits originating events.
func (a Access) CanWrite() bool { return a == AccessReadWrite || a == AccessWriteOnly }

// Capabilities declares what a channel can render plus limits and
// feature flags.
type Capabilities struct {
	// Content lists the renderable content kinds.
	Content []ContentKind `json:"content"`
	// MaxLength caps text length in runes; 0 means unlimited.
	MaxLength int `json:"max_length,omitempty"`
	// Features carries free-form capability flags.
	Features []string `json:"features,omitempty"`
}

// Supports reports whether the capability set includes the given kind.
func (c Capabilities) Supports(kind ContentKind) bool {
	for _, k := range c.Content {
		if k == kind {
			return true
		}
	}
	return false
}

// HasFeature reports whether a feature flag is declared.
func (c Capabilities) HasFeature(name string) bool {
	for _, f := range c.Features {
		if f == name {
			return true
		}
	}
	return false
}

// TextCapabilities is the minimal capability set: plain text only.
func TextCapabilities() Capabilities {
	return Capabilities{Content: []ContentKind{KindText}}
}

// RateLimitConfig bounds outbound delivery on a binding. At most one of the
// three rates should be set; the first non-zero one wins in the order
// listed.
type RateLimitConfig struct {
	MaxPerSecond int `json:"max_per_second,omitempty" toml:"max_per_second"`
	MaxPerMinute int `json:"max_per_minute,omitempty" toml:"max_per_minute"`
	MaxPerHour   int `json:"max_per_hour,omitempty" toml:"max_per_hour"`
}

// ChannelBinding attaches a channel to a room with access rights,
// capabilities, and per-room configuration. Bindings are owned by their
// room and destroyed on detach. ChannelID is globally unique across
// registered channels.
type ChannelBinding struct {
	ChannelID     string       `json:"channel_id"`
	RoomID        string       `json:"room_id"`
	ChannelType   string       `json:"channel_type"`
	Category      Category     `json:"category"`
	Direction     Direction    `json:"direction"`
	Access        Access       `json:"access"`
	Muted         bool         `json:"muted"`
	Visibility    string       `json:"visibility"`
	ParticipantID string       `json:"participant_id,omitempty"`
	LastReadIndex int64        `json:"last_read_index"`
	AttachedAt    int64        `json:"attached_at"`
	Capabilities  Capabilities `json:"capabilities"`
	// RateLimit and RetryPolicy apply to transport delivery only.
	RateLimit   *RateLimitConfig `json:"rate_limit,omitempty"`
	RetryPolicy *RetryPolicy     `json:"retry_policy,omitempty"`
	// Metadata is the open extension map: intelligence adapters read their
	// per-room knobs (system prompt, temperature, tool list) from here at
	// each invocation.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaRejectOverLength is the binding metadata key that switches max-length
// enforcement from truncation to rejection.
const MetaRejectOverLength = "reject_over_length"

// --- Participants and identities ---

// Participant is a person (or bot) present in a room through a channel.
type Participant struct {
	ID         string `json:"id"`
	RoomID     string `json:"room_id"`
	ChannelID  string `json:"channel_id"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	IdentityID string `json:"identity_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// ChannelAddress is one externally-addressable endpoint of an identity
// (a phone number, an email address, a websocket user id, ...).
type ChannelAddress struct {
	ChannelType string `json:"channel_type"`
	Address     string `json:"address"`
}

// Identity is a person known across rooms. Its lifetime is independent of
// any room.
type Identity struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name,omitempty"`
	ExternalID  string           `json:"external_id,omitempty"`
	Addresses   []ChannelAddress `json:"channel_addresses,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	UpdatedAt   int64            `json:"updated_at"`
}

// --- Tasks and observations ---

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a side-effect record produced by hooks or intelligence channels,
// persisted at the end of a successful pipeline run.
type Task struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    TaskStatus     `json:"status"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// Observation is a passive side-effect record: something noticed, not
// something to do.
type Observation struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// --- Ephemeral and framework events ---

// EphemeralType classifies realtime events that are published but never
// persisted.
type EphemeralType string

const (
	EphemeralTypingStart     EphemeralType = "typing_start"
	EphemeralTypingStop      EphemeralType = "typing_stop"
	EphemeralPresenceOnline  EphemeralType = "presence_online"
	EphemeralPresenceAway    EphemeralType = "presence_away"
	EphemeralPresenceOffline EphemeralType = "presence_offline"
	EphemeralReadReceipt     EphemeralType = "read_receipt"
	EphemeralCustom          EphemeralType = "custom"
)

// EphemeralEvent is a typing/presence/read-receipt notification carried by
// the realtime bus.
type EphemeralEvent struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	Type      EphemeralType  `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// FrameworkEvent is an observability notification about an internal
// transition, separate from the RoomEvent stream.
type FrameworkEvent struct {
	Name      string         `json:"name"`
	RoomID    string         `json:"room_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Framework event names emitted by the core.
const (
	FERoomCreated             = "room_created"
	FERoomClosed              = "room_closed"
	FEChannelAttached         = "channel_attached"
	FEChannelDetached         = "channel_detached"
	FEEventBlocked            = "event_blocked"
	FEDeliverySucceeded       = "delivery_succeeded"
	FEDeliveryFailed          = "delivery_failed"
	FEBroadcastPartialFailure = "broadcast_partial_failure"
	FEChainDepthExceeded      = "chain_depth_exceeded"
	FEIdentityTimeout         = "identity_timeout"
	FEProcessTimeout          = "process_timeout"
	FEHookError               = "hook_error"
	FETranscodingFailed       = "transcoding_failed"
)

// --- Inbound messages ---

// InboundMessage is a raw external message before channel conversion.
// The source channel's HandleInbound turns it into the canonical RoomEvent.
type InboundMessage struct {
	ChannelID      string         `json:"channel_id"`
	ChannelType    string         `json:"channel_type"`
	ParticipantID  string         `json:"participant_id,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Content        Content        `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
