package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestReadEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Event
		wantErr bool
	}{
		{
			name:  "event without payload",
			input: `{"type":"audio-stop"}` + "\n",
			want:  &Event{Type: "audio-stop"},
		},
		{
			name:  "event with data",
			input: `{"type":"audio-start","data":{"language":"en","rate":"16000"}}` + "\n",
			want: &Event{
				Type: "audio-start",
				Data: map[string]string{"language": "en", "rate": "16000"},
			},
		},
		{
			name:  "event with payload",
			input: `{"type":"audio-chunk","payload_length":4}` + "\nabcd",
			want: &Event{
				Type:          "audio-chunk",
				PayloadLength: 4,
				Payload:       []byte("abcd"),
			},
		},
		{
			name:  "crlf terminated header",
			input: `{"type":"ping"}` + "\r\n",
			want:  &Event{Type: "ping"},
		},
		{
			name:    "malformed header",
			input:   "{not json}\n",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   `{"data":{"language":"en"}}` + "\n",
			wantErr: true,
		},
		{
			name:    "negative payload length",
			input:   `{"type":"audio-chunk","payload_length":-1}` + "\n",
			wantErr: true,
		},
		{
			name:    "empty header line",
			input:   "\n",
			wantErr: true,
		},
		{
			name:    "truncated payload",
			input:   `{"type":"audio-chunk","payload_length":10}` + "\nabc",
			wantErr: true,
		},
		{
			name:    "truncated header",
			input:   `{"type":"audio-`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), Limits{})
			got, err := r.ReadEvent()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ReadEvent() = %+v, want framing error", got)
				}
				if !IsFraming(err) {
					t.Errorf("ReadEvent() error = %v, want *FramingError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadEvent() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadEventCleanClose(t *testing.T) {
	r := NewReader(strings.NewReader(""), Limits{})
	if _, err := r.ReadEvent(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadEvent() on empty stream error = %v, want io.EOF", err)
	}
}

func TestReadEventOversizedPayload(t *testing.T) {
	input := `{"type":"audio-chunk","payload_length":2048}` + "\n" + strings.Repeat("x", 2048)
	r := NewReader(strings.NewReader(input), Limits{MaxPayloadBytes: 1024})
	_, err := r.ReadEvent()
	if !IsFraming(err) {
		t.Fatalf("ReadEvent() error = %v, want *FramingError for oversized payload", err)
	}
}

func TestReadEventOversizedHeader(t *testing.T) {
	header := `{"type":"audio-start","data":{"pad":"` + strings.Repeat("x", 4096) + `"}}` + "\n"
	r := NewReader(strings.NewReader(header), Limits{MaxHeaderBytes: 256})
	_, err := r.ReadEvent()
	if !IsFraming(err) {
		t.Fatalf("ReadEvent() error = %v, want *FramingError for oversized header", err)
	}
}

func TestRoundTrip(t *testing.T) {
	events := []*Event{
		NewAudioStart(SessionAttributes{
			Language:   "en",
			Encoding:   "pcm_s16le",
			SampleRate: 16000,
			Channels:   1,
			Metadata:   map[string]string{"tenant": "acme"},
		}),
		NewAudioChunk([]byte{0x01, 0x02, 0x00, 0xff}),
		NewAudioStop(),
		NewTranscript("turn the lights off", false),
		NewTranscript("turn the lights off", true),
		NewError("backend_unreachable", "no backend accepted the session"),
		NewPing(),
		NewPong(),
		{Type: "custom-extension", Data: map[string]string{"k": "v"}, Payload: []byte("opaque")},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent(%s) error = %v", ev.Type, err)
		}
	}

	first := buf.String()

	r := NewReader(bytes.NewReader(buf.Bytes()), Limits{})
	var decoded []*Event
	for {
		ev, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadEvent() error = %v", err)
		}
		decoded = append(decoded, ev)
	}

	if len(decoded) != len(events) {
		t.Fatalf("decoded %d events, want %d", len(decoded), len(events))
	}
	for i, ev := range decoded {
		if ev.Type != events[i].Type {
			t.Errorf("event %d type = %q, want %q", i, ev.Type, events[i].Type)
		}
		if !bytes.Equal(ev.Payload, events[i].Payload) {
			t.Errorf("event %d payload = %v, want %v", i, ev.Payload, events[i].Payload)
		}
		if !reflect.DeepEqual(ev.Data, events[i].Data) && len(ev.Data)+len(events[i].Data) > 0 {
			t.Errorf("event %d data = %v, want %v", i, ev.Data, events[i].Data)
		}
	}

	// Re-encoding the decoded events must reproduce the original bytes.
	var buf2 bytes.Buffer
	w2 := NewWriter(&buf2)
	for _, ev := range decoded {
		if err := w2.WriteEvent(ev); err != nil {
			t.Fatalf("re-encode WriteEvent(%s) error = %v", ev.Type, err)
		}
	}
	if buf2.String() != first {
		t.Error("re-encoded stream differs from original encoding")
	}
}
