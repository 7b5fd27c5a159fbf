package piper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrospeak/agrospeak/internal/config"
	"github.com/agrospeak/agrospeak/internal/fallback"
	"github.com/agrospeak/agrospeak/internal/tts"
)

// fakePiper accepts one connection, records the synthesize event and
// answers with the given events.
func fakePiper(t *testing.T, reply func(conn net.Conn)) (addr string, got chan *wyomingEvent) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got = make(chan *wyomingEvent, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		evt, _, err := readEvent(bufio.NewReader(conn))
		if err != nil {
			return
		}
		got <- evt
		reply(conn)
	}()
	return ln.Addr().String(), got
}

func TestSynthesize(t *testing.T) {
	addr, got := fakePiper(t, func(conn net.Conn) {
		_ = writeEvent(conn, wyomingEvent{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
		_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, []byte{1, 2, 3, 4})
		_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, []byte{5, 6})
		_ = writeEvent(conn, wyomingEvent{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperConfig{Endpoint: "tcp://" + addr}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.Synthesize(ctx, "Sunny today", tts.SynthesizeOpts{Language: "English"})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", res.ContentType)
	assert.Equal(t, 16000, res.SampleRate)
	assert.True(t, bytes.HasPrefix(res.Audio, []byte("RIFF")))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, res.Audio[44:])

	evt := <-got
	assert.Equal(t, "synthesize", evt.Type)
	assert.Equal(t, "Sunny today", evt.Data["text"])
	assert.Equal(t, map[string]any{"name": "en_US-lessac-medium"}, evt.Data["voice"])
}

func TestSynthesizeError(t *testing.T) {
	addr, _ := fakePiper(t, func(conn net.Conn) {
		_ = writeEvent(conn, wyomingEvent{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
	})

	s := New(config.PiperConfig{Endpoint: addr}, nil)
	_, err := s.Synthesize(context.Background(), "hello", tts.SynthesizeOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestVoiceFor(t *testing.T) {
	s := New(config.PiperConfig{
		Endpoint:  "piper:10200",
		Endpoints: map[string]string{"Swahili": "tcp://piper-sw:10200"},
		Voices:    map[string]string{"Bemba": "bem_ZM-custom-medium"},
	}, nil)

	tests := []struct {
		opts         tts.SynthesizeOpts
		wantVoice    string
		wantEndpoint string
	}{
		{tts.SynthesizeOpts{Language: "English"}, "en_US-lessac-medium", "piper:10200"},
		{tts.SynthesizeOpts{Language: "en"}, "en_US-lessac-medium", "piper:10200"},
		{tts.SynthesizeOpts{Language: "Bemba"}, "bem_ZM-custom-medium", "piper:10200"},
		{tts.SynthesizeOpts{Language: "Nyanja"}, "en_US-lessac-medium", "piper:10200"},
		{tts.SynthesizeOpts{Language: "swahili"}, "sw_CD-lanfrica-medium", "piper-sw:10200"},
		{tts.SynthesizeOpts{Language: "English", Voice: "en_GB-alan-low"}, "en_GB-alan-low", "piper:10200"},
	}
	for _, tt := range tests {
		voice, endpoint := s.voiceFor(tt.opts)
		assert.Equal(t, tt.wantVoice, voice, tt.opts.Language)
		assert.Equal(t, tt.wantEndpoint, endpoint, tt.opts.Language)
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	_, err := New(config.PiperConfig{Endpoint: "localhost:1"}, nil).Synthesize(context.Background(), "", tts.SynthesizeOpts{})
	assert.Error(t, err)
}

func TestReadWriteEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEvent(&buf, wyomingEvent{Type: "audio-chunk", Data: map[string]any{"rate": 22050}}, []byte("pcm")))

	evt, payload, err := readEvent(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "audio-chunk", evt.Type)
	assert.Equal(t, []byte("pcm"), payload)
}

func TestReadEventRejectsBadHeader(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"negative json length", "-5 0\n{}\n"},
		{"negative payload length", "2 -1\n{}\n"},
		{"json length over cap", "99999999999 0\n"},
		{"payload length over cap", "2 33554432\n{}\n"},
		{"not a number", "two 0\n{}\n"},
		{"missing payload length", "2\n{}\n"},
		{"header too long", strings.Repeat("1", 200) + " 0\n"},
		{"body not newline terminated", "2 0\n{}x"},
		{"invalid json", "2 0\n{{\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				evt *wyomingEvent
				err error
			)
			require.NotPanics(t, func() {
				evt, _, err = readEvent(bufio.NewReader(strings.NewReader(tt.frame)))
			})
			require.Error(t, err)
			assert.Nil(t, evt)
			assert.Equal(t, fallback.Parse, fallback.Classify(err))
		})
	}
}

func TestSynthesizeBadFrameFails(t *testing.T) {
	addr, _ := fakePiper(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("-5 0\n{}\n"))
	})

	s := New(config.PiperConfig{Endpoint: addr}, nil)
	_, err := s.Synthesize(context.Background(), "hello", tts.SynthesizeOpts{})
	require.Error(t, err)
	assert.Equal(t, fallback.Parse, fallback.Classify(err))
}

func TestPCMToWAVHeader(t *testing.T) {
	wav := pcmToWAV([]byte{1, 2, 3, 4}, 16000, 1, 2)
	require.Len(t, wav, 48)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(40), binary.LittleEndian.Uint32(wav[4:]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:]))
}
