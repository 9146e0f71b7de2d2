package eventstream

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
)

func contentFrame(text string) []byte {
	return EventFrame(EventAssistantResponse, []byte(`{"content":`+quote(text)+`}`))
}

func quote(s string) string {
	var b bytes.Buffer
	b.WriteByte('"')
	b.WriteString(s)
	b.WriteByte('"')
	return b.String()
}

func sampleStream() []byte {
	var stream []byte
	stream = append(stream, contentFrame("Hello")...)
	stream = append(stream, EventFrame("toolUseEvent", []byte(`{"name":"x"}`))...)
	stream = append(stream, contentFrame(", world")...)
	stream = append(stream, EventFrame(EventMetering, []byte(`{"unit":"credit","usage":0.5}`))...)
	return stream
}

func TestDecoderWholeBuffer(t *testing.T) {
	d := NewDecoder(nil)
	events := d.Feed(sampleStream())

	want := []Event{
		{Kind: KindContent, Content: "Hello"},
		{Kind: KindContent, Content: ", world"},
		{Kind: KindMetering, Usage: 0.5},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events:\n got %+v\nwant %+v", events, want)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", d.Buffered())
	}
}

func TestDecoderChunkingIsTransparent(t *testing.T) {
	stream := sampleStream()
	want := NewDecoder(nil).Feed(stream)

	for _, size := range []int{1, 2, 3, 7, 11, 12, 13, 64, len(stream)} {
		d := NewDecoder(nil)
		var got []Event
		for start := 0; start < len(stream); start += size {
			end := start + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, d.Feed(stream[start:end])...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: got %+v want %+v", size, got, want)
		}
	}
}

func TestDecoderWaitsForTruncatedFrame(t *testing.T) {
	frame := contentFrame("partial")
	d := NewDecoder(nil)

	if events := d.Feed(frame[:len(frame)-1]); len(events) != 0 {
		t.Fatalf("expected no events from truncated frame, got %+v", events)
	}
	if d.Buffered() != len(frame)-1 {
		t.Fatalf("expected %d buffered bytes, got %d", len(frame)-1, d.Buffered())
	}

	events := d.Feed(frame[len(frame)-1:])
	if len(events) != 1 || events[0].Content != "partial" {
		t.Fatalf("unexpected events after completion: %+v", events)
	}
}

func TestDecoderSkipsCorruptPayload(t *testing.T) {
	var stream []byte
	stream = append(stream, EventFrame(EventAssistantResponse, []byte(`{not json`))...)
	stream = append(stream, EventFrame(EventMetering, []byte(`[`))...)
	stream = append(stream, contentFrame("after")...)

	d := NewDecoder(nil)
	events := d.Feed(stream)
	if len(events) != 1 || events[0].Content != "after" {
		t.Fatalf("expected decoding to continue past corrupt frames, got %+v", events)
	}
	if d.Skipped() != 2 {
		t.Fatalf("expected 2 skipped frames, got %d", d.Skipped())
	}
}

func TestDecoderIgnoresNonJSONAssistantFrames(t *testing.T) {
	frame := EncodeFrame([]Header{
		{Name: HeaderEventType, Value: EventAssistantResponse},
		{Name: HeaderContentType, Value: "text/plain"},
	}, []byte(`{"content":"nope"}`))

	events := NewDecoder(nil).Feed(append(frame, contentFrame("yes")...))
	if len(events) != 1 || events[0].Content != "yes" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDecoderEmptyContentIsDropped(t *testing.T) {
	events := NewDecoder(nil).Feed(EventFrame(EventAssistantResponse, []byte(`{"content":""}`)))
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestDecoderHeaderOverflowSkipsFrame(t *testing.T) {
	bad := contentFrame("bad")
	binary.BigEndian.PutUint32(bad[4:8], uint32(len(bad)))

	d := NewDecoder(nil)
	events := d.Feed(append(bad, contentFrame("good")...))
	if len(events) != 1 || events[0].Content != "good" {
		t.Fatalf("unexpected events %+v", events)
	}
	if d.Skipped() != 1 {
		t.Fatalf("expected one skipped frame, got %d", d.Skipped())
	}
}

func TestDecoderInvalidLengthDiscardsBuffer(t *testing.T) {
	d := NewDecoder(nil)
	garbage := make([]byte, 20)
	binary.BigEndian.PutUint32(garbage[0:4], 3)

	if events := d.Feed(garbage); len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected buffer to be discarded, got %d", d.Buffered())
	}

	events := d.Feed(contentFrame("recovered"))
	if len(events) != 1 {
		t.Fatalf("expected decoder to accept new frames after discard, got %+v", events)
	}
}

func TestDecoderTolerantOfCRCMismatch(t *testing.T) {
	frame := contentFrame("crc")
	frame[len(frame)-1] ^= 0xff

	events := NewDecoder(nil).Feed(frame)
	if len(events) != 1 || events[0].Content != "crc" {
		t.Fatalf("crc mismatch must not gate emission, got %+v", events)
	}
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder(nil)
	frame := contentFrame("x")
	d.Feed(frame[:5])
	d.Reset()
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
}

func TestParseHeadersRawValues(t *testing.T) {
	block := []byte{3, 'a', 'b', 'c', 4, 0, 2, 0x01, 0x02}
	headers, err := parseHeaders(block)
	if err != nil {
		t.Fatalf("parse headers: %v", err)
	}
	v := headers["abc"]
	if v.Type != 4 || !bytes.Equal(v.Raw, []byte{1, 2}) {
		t.Fatalf("unexpected header value %+v", v)
	}
	if v.String() != "" {
		t.Fatalf("non-string header must not render as text")
	}

	if _, err := parseHeaders(block[:6]); err == nil {
		t.Fatal("expected truncated header block to fail")
	}
}
