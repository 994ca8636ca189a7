// Package wire implements the event framing used on both sides of the proxy.
//
// An event on the wire is a single JSON header object terminated by a newline,
// optionally followed by a binary payload:
//
//	{"type":"audio-chunk","data":{"rate":"16000"},"payload_length":640}\n
//	<640 raw bytes>
//
// The header declares the event type, a string-keyed metadata map, and the
// exact number of payload bytes that follow. The same framing is spoken
// client-to-proxy and proxy-to-backend, so the codec is independent of which
// side of a session it is decoding.
//
// # Event Vocabulary
//
// The proxy interprets a small set of event types:
//
//   - audio-start: opens a session and declares its attributes (language,
//     encoding, sample rate, client identity, arbitrary metadata)
//   - audio-chunk: one buffer of raw audio, carried as the binary payload
//   - audio-stop: end of the audio stream
//   - transcript: a recognition result, partial or final
//   - error: a terminal error with a reason
//   - ping / pong: liveness
//
// Any other event type is decoded and re-encoded untouched; the proxy is a
// transparent pass-through for vocabulary it does not understand.
//
// # Framing Errors
//
// Decoding fails with *FramingError on malformed or oversized headers, on a
// declared payload length exceeding the configured maximum, and on a stream
// that ends mid-header or mid-payload. A truncated stream never produces a
// partial successful decode. A clean close between events is reported as
// io.EOF, not as a framing error.
package wire
