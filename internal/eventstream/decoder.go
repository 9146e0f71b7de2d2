// Package eventstream decodes the upstream's length-prefixed binary event
// stream into content and metering events.
//
// A Decoder owns its buffer and is not safe for concurrent use. Create one
// per upstream call and feed it sequentially.
package eventstream

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
)

// Kind identifies a decoded event.
type Kind int

const (
	KindContent Kind = iota + 1
	KindMetering
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindMetering:
		return "metering"
	default:
		return "unknown"
	}
}

// Event is one decoded upstream event.
type Event struct {
	Kind    Kind
	Content string
	Usage   float64
}

type assistantResponsePayload struct {
	Content string `json:"content"`
}

type meteringPayload struct {
	Unit  string   `json:"unit"`
	Usage *float64 `json:"usage"`
}

// Decoder incrementally parses frames out of an accumulating buffer.
type Decoder struct {
	buf     []byte
	logger  *slog.Logger
	skipped int
}

// NewDecoder constructs a decoder. A nil logger uses slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed appends chunk to the buffer and returns every event completed by it.
// A trailing partial frame stays buffered until later input completes it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for len(d.buf) >= preludeLen {
		total := binary.BigEndian.Uint32(d.buf[0:4])
		if total < minFrameLen || total > maxFrameLen {
			// No trustworthy boundary to resync on.
			d.logger.Warn("discarding event stream buffer", "reason", "invalid frame length", "total_length", total, "buffered", len(d.buf))
			d.skipped++
			d.buf = nil
			break
		}
		if uint64(len(d.buf)) < uint64(total) {
			break
		}

		raw := d.buf[:total]
		d.buf = d.buf[total:]

		if ev, ok := d.decode(raw); ok {
			events = append(events, ev)
		}
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Reset drops any buffered partial frame.
func (d *Decoder) Reset() {
	d.buf = nil
}

// Buffered reports how many bytes of a partial frame are being held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Skipped reports how many frames were dropped because they could not be decoded.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) decode(raw []byte) (Event, bool) {
	f, err := parseFrame(raw)
	if err != nil {
		d.skip("malformed frame", err)
		return Event{}, false
	}
	if !f.preludeOK || !f.messageOK {
		d.logger.Debug("event stream crc mismatch", "prelude_ok", f.preludeOK, "message_ok", f.messageOK, "length", f.totalLength)
	}

	switch f.headers.Get(HeaderEventType) {
	case EventAssistantResponse:
		if f.headers.Get(HeaderContentType) != ContentTypeJSON {
			return Event{}, false
		}
		var p assistantResponsePayload
		if err := json.Unmarshal(f.payload, &p); err != nil {
			d.skip("invalid assistant response payload", err)
			return Event{}, false
		}
		if p.Content == "" {
			return Event{}, false
		}
		return Event{Kind: KindContent, Content: p.Content}, true

	case EventMetering:
		var p meteringPayload
		if err := json.Unmarshal(f.payload, &p); err != nil {
			d.skip("invalid metering payload", err)
			return Event{}, false
		}
		var usage float64
		if p.Usage != nil {
			usage = *p.Usage
		}
		return Event{Kind: KindMetering, Usage: usage}, true

	default:
		return Event{}, false
	}
}

func (d *Decoder) skip(reason string, err error) {
	d.skipped++
	d.logger.Warn("skipping event stream frame", "kind", "FrameDecodeSkipped", "reason", reason, "err", err)
}
