package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSynth struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []SynthesizeOpts
	texts []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &SynthesizeResult{Audio: []byte(f.name + ":" + text), ContentType: "audio/wav"}, nil
}

func (f *fakeSynth) Close() error { return nil }

func (f *fakeSynth) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type recordingPlayer struct {
	mu      sync.Mutex
	played  []string
	active  int
	overlap bool
}

func (p *recordingPlayer) Play(_ context.Context, a *SynthesizeResult) error {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.played = append(p.played, string(a.Audio))
	p.mu.Unlock()
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	reasons []fallback.Reason
}

func (o *countingObserver) ObserveFallback(_ string, r fallback.Reason) {
	o.mu.Lock()
	o.reasons = append(o.reasons, r)
	o.mu.Unlock()
}

func TestSpeakEnglishUsesLocal(t *testing.T) {
	local, remote := &fakeSynth{name: "local"}, &fakeSynth{name: "remote"}
	player := &recordingPlayer{}
	s := NewSpeaker(SpeakerConfig{Local: local, Remote: remote, Player: player})
	defer s.Close()

	out := s.Speak(context.Background(), "Sunny today", "English")
	require.NoError(t, out.Err)
	assert.Equal(t, PathLocal, out.Path)
	assert.Empty(t, remote.Texts())
	assert.Equal(t, []string{"local:Sunny today"}, player.played)

	require.Len(t, local.calls, 1)
	assert.InDelta(t, DefaultPitch, local.calls[0].Pitch, 1e-9)
	assert.InDelta(t, DefaultRate, local.calls[0].Rate, 1e-9)
	assert.Equal(t, Idle, s.State())
}

func TestSpeakOtherLanguageUsesRemote(t *testing.T) {
	local, remote := &fakeSynth{name: "local"}, &fakeSynth{name: "remote"}
	player := &recordingPlayer{}
	s := NewSpeaker(SpeakerConfig{Local: local, Remote: remote, Player: player})
	defer s.Close()

	out := s.Speak(context.Background(), "Mailo kuli imfula", "Bemba")
	require.NoError(t, out.Err)
	assert.Equal(t, PathRemote, out.Path)
	assert.False(t, out.Reason.Degraded())
	assert.Empty(t, local.Texts())
	assert.Equal(t, []string{"remote:Mailo kuli imfula"}, player.played)
}

func TestSpeakRemoteFailureFallsBackToLocal(t *testing.T) {
	local := &fakeSynth{name: "local"}
	remote := &fakeSynth{name: "remote", err: fallback.Errorf(fallback.Status, "status 502")}
	obs := &countingObserver{}
	s := NewSpeaker(SpeakerConfig{Local: local, Remote: remote, Player: &recordingPlayer{}, Observer: obs})
	defer s.Close()

	out := s.Speak(context.Background(), "Mailo kuli imfula", "Bemba")
	require.NoError(t, out.Err)
	assert.Equal(t, PathLocalFallback, out.Path)
	assert.Equal(t, fallback.Status, out.Reason)
	assert.Equal(t, []fallback.Reason{fallback.Status}, obs.reasons)

	require.Len(t, local.calls, 1)
	assert.Equal(t, "Bemba", local.calls[0].Language, "fallback keeps the nominal language")
}

func TestSpeakEmptyRemoteAudioFallsBack(t *testing.T) {
	local := &fakeSynth{name: "local"}
	s := NewSpeaker(SpeakerConfig{Local: local, Remote: emptySynth{}})
	defer s.Close()

	out := s.Speak(context.Background(), "hello", "Nyanja")
	assert.Equal(t, PathLocalFallback, out.Path)
	assert.Equal(t, fallback.Empty, out.Reason)
}

type emptySynth struct{}

func (emptySynth) Synthesize(context.Context, string, SynthesizeOpts) (*SynthesizeResult, error) {
	return &SynthesizeResult{}, nil
}
func (emptySynth) Close() error { return nil }

func TestSpeakLocalFailure(t *testing.T) {
	s := NewSpeaker(SpeakerConfig{Local: &fakeSynth{err: errors.New("piper down")}})
	defer s.Close()

	out := s.Speak(context.Background(), "hello", "English")
	require.Error(t, out.Err)
	assert.Equal(t, PathNone, out.Path)
	assert.Equal(t, Idle, s.State())
}

func TestSpeakBlankTextIsNoop(t *testing.T) {
	local := &fakeSynth{}
	s := NewSpeaker(SpeakerConfig{Local: local})
	defer s.Close()

	out := s.Speak(context.Background(), "   ", "English")
	assert.Equal(t, PathNone, out.Path)
	assert.NoError(t, out.Err)
	assert.Empty(t, local.Texts())
}

func TestSpeakQueuesInOrderWithoutOverlap(t *testing.T) {
	local := &fakeSynth{name: "local", delay: 2 * time.Millisecond}
	player := &recordingPlayer{}
	s := NewSpeaker(SpeakerConfig{Local: local, Player: player})
	defer s.Close()

	// Start the first job, wait until it is in flight, then queue the rest.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Speak(context.Background(), "one", "English")
	}()
	require.Eventually(t, func() bool { return len(local.Texts()) == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Speak(context.Background(), "two", "English")
	}()
	require.Eventually(t, func() bool { return len(s.jobs) == 1 || len(local.Texts()) == 2 }, time.Second, time.Millisecond)

	out := s.Speak(context.Background(), "three", "English")
	require.NoError(t, out.Err)
	wg.Wait()

	assert.Equal(t, []string{"one", "two", "three"}, local.Texts())
	assert.False(t, player.overlap, "playback overlapped")
}

func TestSpeakContextCanceled(t *testing.T) {
	s := NewSpeaker(SpeakerConfig{Local: &fakeSynth{delay: time.Second}})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out := s.Speak(ctx, "slow", "English")
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestSpeakAfterClose(t *testing.T) {
	s := NewSpeaker(SpeakerConfig{Local: &fakeSynth{}})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	out := s.Speak(context.Background(), "hello", "English")
	assert.ErrorIs(t, out.Err, ErrClosed)
}

func TestIsEnglish(t *testing.T) {
	for _, l := range []string{"English", "english", "EN", " en-US "} {
		assert.True(t, IsEnglish(l), l)
	}
	for _, l := range []string{"Bemba", "Nyanja", "", "fr"} {
		assert.False(t, IsEnglish(l), l)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "requesting_remote_audio", RequestingRemoteAudio.String())
	assert.Equal(t, "speaking_local", SpeakingLocal.String())
}
