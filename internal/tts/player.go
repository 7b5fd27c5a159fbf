package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Player renders synthesized audio. Play returns when playback has
// finished.
type Player interface {
	Play(ctx context.Context, audio *SynthesizeResult) error
}

// NopPlayer discards audio. Used when the daemon only returns audio to
// clients.
type NopPlayer struct{}

// Play does nothing.
func (NopPlayer) Play(context.Context, *SynthesizeResult) error { return nil }

// DirPlayer writes each clip to a directory.
type DirPlayer struct {
	dir string
	seq atomic.Uint64
}

// NewDirPlayer creates dir if needed and returns a DirPlayer writing into it.
func NewDirPlayer(dir string) (*DirPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio dir: %w", err)
	}
	return &DirPlayer{dir: dir}, nil
}

// Play writes audio to a new file named by time and sequence.
func (p *DirPlayer) Play(_ context.Context, audio *SynthesizeResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return errors.New("no audio to play")
	}
	name := fmt.Sprintf("%s-%04d%s", time.Now().UTC().Format("20060102T150405"), p.seq.Add(1), extFor(audio.ContentType))
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, audio.Audio, 0o644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	return nil
}

// CommandPlayer pipes audio to an external program such as aplay.
type CommandPlayer struct {
	argv []string
}

// NewCommandPlayer returns a player running argv with audio on stdin.
func NewCommandPlayer(argv []string) (*CommandPlayer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("player command is empty")
	}
	return &CommandPlayer{argv: argv}, nil
}

// Play runs the command and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, audio *SynthesizeResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return errors.New("no audio to play")
	}
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio.Audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w: %s", p.argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func extFor(ct string) string {
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return ".mp3"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	default:
		return ".wav"
	}
}
