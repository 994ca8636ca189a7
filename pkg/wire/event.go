package wire

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Well-known event types. The proxy relays any type transparently; these are
// the ones it inspects.
const (
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
	TypeTranscript = "transcript"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Data keys used by interpreted events.
const (
	DataText    = "text"
	DataIsFinal = "is_final"
	DataMessage = "message"
	DataCode    = "code"
)

// Event is one framed wire-protocol event: a type tag, a string-keyed
// metadata map, and an optional binary payload. PayloadLength is the declared
// length from the header; encoding always derives it from len(Payload).
type Event struct {
	Type          string            `json:"type"`
	Data          map[string]string `json:"data,omitempty"`
	PayloadLength int               `json:"payload_length,omitempty"`

	// Payload holds the raw bytes that followed the header, nil when the
	// header declared no payload.
	Payload []byte `json:"-"`
}

// SessionAttributes are the attributes a client declares in its opening
// audio-start event. Fields not claimed by a named attribute are retained in
// Metadata so routing rules can match on arbitrary keys.
type SessionAttributes struct {
	Language   string            `mapstructure:"language"`
	Encoding   string            `mapstructure:"encoding"`
	SampleRate int               `mapstructure:"rate"`
	Channels   int               `mapstructure:"channels"`
	ClientID   string            `mapstructure:"client_id"`
	Metadata   map[string]string `mapstructure:",remain"`
}

// Get returns the attribute value for a predicate key: the named fields under
// their wire names, then the metadata map.
func (a SessionAttributes) Get(key string) (string, bool) {
	switch key {
	case "language":
		return a.Language, a.Language != ""
	case "encoding":
		return a.Encoding, a.Encoding != ""
	case "rate":
		if a.SampleRate == 0 {
			return "", false
		}
		return strconv.Itoa(a.SampleRate), true
	case "channels":
		if a.Channels == 0 {
			return "", false
		}
		return strconv.Itoa(a.Channels), true
	case "client_id":
		return a.ClientID, a.ClientID != ""
	}
	v, ok := a.Metadata[key]
	return v, ok
}

// Attributes decodes the event's data map into SessionAttributes. Numeric
// fields accept their wire form as strings ("16000"). Only meaningful for
// audio-start events, but safe to call on any event.
func (e *Event) Attributes() (SessionAttributes, error) {
	var attrs SessionAttributes
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &attrs,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return SessionAttributes{}, fmt.Errorf("build attribute decoder: %w", err)
	}
	if err := dec.Decode(e.Data); err != nil {
		return SessionAttributes{}, fmt.Errorf("decode session attributes: %w", err)
	}
	return attrs, nil
}

// IsTranscript reports whether the event is a transcript event.
func (e *Event) IsTranscript() bool { return e.Type == TypeTranscript }

// IsFinal reports whether a transcript event is tagged final.
func (e *Event) IsFinal() bool { return e.Data[DataIsFinal] == "true" }

// Text returns the transcript text, empty for other event types.
func (e *Event) Text() string { return e.Data[DataText] }

// NewAudioStart builds an opening event from session attributes. The inverse
// of (*Event).Attributes for the named fields.
func NewAudioStart(attrs SessionAttributes) *Event {
	data := make(map[string]string, len(attrs.Metadata)+5)
	for k, v := range attrs.Metadata {
		data[k] = v
	}
	if attrs.Language != "" {
		data["language"] = attrs.Language
	}
	if attrs.Encoding != "" {
		data["encoding"] = attrs.Encoding
	}
	if attrs.SampleRate != 0 {
		data["rate"] = strconv.Itoa(attrs.SampleRate)
	}
	if attrs.Channels != 0 {
		data["channels"] = strconv.Itoa(attrs.Channels)
	}
	if attrs.ClientID != "" {
		data["client_id"] = attrs.ClientID
	}
	return &Event{Type: TypeAudioStart, Data: data}
}

// NewAudioChunk builds an audio-chunk event carrying payload.
func NewAudioChunk(payload []byte) *Event {
	return &Event{Type: TypeAudioChunk, Payload: payload}
}

// NewAudioStop builds an end-of-audio event.
func NewAudioStop() *Event {
	return &Event{Type: TypeAudioStop}
}

// NewTranscript builds a transcript event, tagged partial or final.
func NewTranscript(text string, final bool) *Event {
	return &Event{Type: TypeTranscript, Data: map[string]string{
		DataText:    text,
		DataIsFinal: strconv.FormatBool(final),
	}}
}

// NewError builds a terminal error event with a machine-readable code and a
// human-readable message.
func NewError(code, message string) *Event {
	return &Event{Type: TypeError, Data: map[string]string{
		DataCode:    code,
		DataMessage: message,
	}}
}

// NewPing builds a liveness check event.
func NewPing() *Event { return &Event{Type: TypePing} }

// NewPong builds the response to a ping.
func NewPong() *Event { return &Event{Type: TypePong} }
