package eventstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	preludeLen  = 12
	trailerLen  = 4
	minFrameLen = preludeLen + trailerLen

	// maxFrameLen bounds a single frame so a corrupt length prefix cannot
	// make the decoder buffer indefinitely.
	maxFrameLen = 16 << 20

	headerTypeString byte = 7
)

// Well-known header names and values.
const (
	HeaderEventType   = ":event-type"
	HeaderContentType = ":content-type"
	HeaderMessageType = ":message-type"

	EventAssistantResponse = "assistantResponseEvent"
	EventMetering          = "meteringEvent"

	ContentTypeJSON = "application/json"
)

var (
	errShortHeader    = errors.New("header block truncated")
	errHeaderOverflow = errors.New("header length exceeds frame")
)

// HeaderValue is a raw header value with its wire type tag.
type HeaderValue struct {
	Type byte
	Raw  []byte
}

// String returns the value as text when it is string-typed and "" otherwise.
func (v HeaderValue) String() string {
	if v.Type != headerTypeString {
		return ""
	}
	return string(v.Raw)
}

// Headers maps header names to values.
type Headers map[string]HeaderValue

// Get returns a string header or "".
func (h Headers) Get(name string) string {
	return h[name].String()
}

// Header is a string header used when encoding frames.
type Header struct {
	Name  string
	Value string
}

// frame is one fully buffered message split into its parts.
type frame struct {
	headers     Headers
	payload     []byte
	preludeOK   bool
	messageOK   bool
	totalLength uint32
}

func parseFrame(raw []byte) (frame, error) {
	total := uint32(len(raw))
	headersLen := binary.BigEndian.Uint32(raw[4:8])
	if uint64(headersLen)+minFrameLen > uint64(total) {
		return frame{}, fmt.Errorf("%w: headers=%d total=%d", errHeaderOverflow, headersLen, total)
	}

	headersEnd := preludeLen + headersLen
	headers, err := parseHeaders(raw[preludeLen:headersEnd])
	if err != nil {
		return frame{}, err
	}

	preludeCRC := binary.BigEndian.Uint32(raw[8:12])
	messageCRC := binary.BigEndian.Uint32(raw[total-trailerLen:])

	return frame{
		headers:     headers,
		payload:     raw[headersEnd : total-trailerLen],
		preludeOK:   crc32.ChecksumIEEE(raw[:8]) == preludeCRC,
		messageOK:   crc32.ChecksumIEEE(raw[:total-trailerLen]) == messageCRC,
		totalLength: total,
	}, nil
}

func parseHeaders(block []byte) (Headers, error) {
	headers := make(Headers)
	offset := 0

	for offset < len(block) {
		nameLen := int(block[offset])
		offset++
		if offset+nameLen+3 > len(block) {
			return nil, errShortHeader
		}
		name := string(block[offset : offset+nameLen])
		offset += nameLen

		valueType := block[offset]
		offset++
		valueLen := int(binary.BigEndian.Uint16(block[offset : offset+2]))
		offset += 2
		if offset+valueLen > len(block) {
			return nil, errShortHeader
		}

		value := make([]byte, valueLen)
		copy(value, block[offset:offset+valueLen])
		offset += valueLen

		headers[name] = HeaderValue{Type: valueType, Raw: value}
	}

	return headers, nil
}

// EncodeFrame serialises string headers and a payload into one frame with
// valid prelude and message CRCs.
func EncodeFrame(headers []Header, payload []byte) []byte {
	var block []byte
	for _, h := range headers {
		block = append(block, byte(len(h.Name)))
		block = append(block, h.Name...)
		block = append(block, headerTypeString)
		block = binary.BigEndian.AppendUint16(block, uint16(len(h.Value)))
		block = append(block, h.Value...)
	}

	total := minFrameLen + len(block) + len(payload)
	out := make([]byte, 0, total)
	out = binary.BigEndian.AppendUint32(out, uint32(total))
	out = binary.BigEndian.AppendUint32(out, uint32(len(block)))
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[:8]))
	out = append(out, block...)
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
	return out
}

// EventFrame is a convenience wrapper producing a JSON event frame.
func EventFrame(eventType string, payload []byte) []byte {
	return EncodeFrame([]Header{
		{Name: HeaderEventType, Value: eventType},
		{Name: HeaderContentType, Value: ContentTypeJSON},
		{Name: HeaderMessageType, Value: "event"},
	}, payload)
}
