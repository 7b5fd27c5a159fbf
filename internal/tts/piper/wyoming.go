package piper

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// A Wyoming frame is a header line "<json_len> <payload_len>\n", the event
// JSON followed by '\n', then payload_len bytes of raw payload.

const (
	// maxHeaderBytes bounds the header line; two decimal lengths fit easily.
	maxHeaderBytes = 64
	// maxFrameBytes bounds a single event's JSON or payload section.
	maxFrameBytes = 16 << 20
)

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// writeEvent frames evt and payload and writes them in one call.
func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", evt.Type, err)
	}

	var frame bytes.Buffer
	frame.Grow(maxHeaderBytes + len(body) + 1 + len(payload))
	frame.WriteString(strconv.Itoa(len(body)))
	frame.WriteByte(' ')
	frame.WriteString(strconv.Itoa(len(payload)))
	frame.WriteByte('\n')
	frame.Write(body)
	frame.WriteByte('\n')
	frame.Write(payload)

	_, err = w.Write(frame.Bytes())
	return err
}

// readEvent reads one frame from r. Malformed headers are tagged
// fallback.Parse so the speaker treats them as a failed synthesis.
func readEvent(r *bufio.Reader) (*wyomingEvent, []byte, error) {
	jsonLen, payloadLen, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading event body: %w", err)
	}
	if body[jsonLen] != '\n' {
		return nil, nil, fallback.Errorf(fallback.Parse, "event body not newline terminated")
	}

	var evt wyomingEvent
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fallback.Wrap(fallback.Parse, fmt.Errorf("decoding event: %w", err))
	}

	if payloadLen == 0 {
		return &evt, nil, nil
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, fmt.Errorf("reading %s payload: %w", evt.Type, err)
	}
	return &evt, payload, nil
}

func readHeader(r *bufio.Reader) (jsonLen, payloadLen int, err error) {
	line, err := r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull) || len(line) > maxHeaderBytes:
		return 0, 0, fallback.Errorf(fallback.Parse, "wyoming header longer than %d bytes", maxHeaderBytes)
	case err != nil:
		return 0, 0, fmt.Errorf("reading header: %w", err)
	}

	fields := strings.Fields(string(line))
	if len(fields) != 2 {
		return 0, 0, fallback.Errorf(fallback.Parse, "invalid wyoming header %q", line)
	}
	if jsonLen, err = frameLen(fields[0]); err != nil {
		return 0, 0, err
	}
	if payloadLen, err = frameLen(fields[1]); err != nil {
		return 0, 0, err
	}
	return jsonLen, payloadLen, nil
}

func frameLen(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fallback.Wrap(fallback.Parse, fmt.Errorf("frame length %q: %w", s, err))
	}
	if n < 0 || n > maxFrameBytes {
		return 0, fallback.Errorf(fallback.Parse, "frame length %d out of range", n)
	}
	return n, nil
}

// pcmToWAV prepends a 44-byte RIFF/WAVE header to little-endian PCM.
func pcmToWAV(pcm []byte, sampleRate, channels, bytesPerSample int) []byte {
	out := make([]byte, 44, 44+len(pcm))
	le := binary.LittleEndian

	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")

	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // PCM
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*channels*bytesPerSample))
	le.PutUint16(out[32:], uint16(channels*bytesPerSample))
	le.PutUint16(out[34:], uint16(bytesPerSample*8))

	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))

	return append(out, pcm...)
}
