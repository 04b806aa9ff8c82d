package dashboard

import (
	"fmt"
	"io"
	"sync"
)

const resumeHint = "(press Enter to resume)"

// Screen is the watch loop's terminal. Frames written to it are dropped
// while the user has paused or a message is on screen, so redraws never
// scroll a message or an answer away.
type Screen struct {
	mu     sync.Mutex
	out    io.Writer
	paused bool
	held   string
}

// NewScreen creates a Screen drawing to out.
func NewScreen(out io.Writer) *Screen {
	return &Screen{out: out}
}

// Write draws a frame unless the screen is paused.
func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return len(p), nil
	}
	return s.out.Write(p)
}

// Pause stops redraws and says so.
func (s *Screen) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.held = ""
	_, err := fmt.Fprintf(s.out, "[paused] %s\n", resumeHint)
	return err
}

// Hold stops redraws and prints msg below the last frame until Resume.
// Holding again replaces the message.
func (s *Screen) Hold(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.held = msg
	_, err := fmt.Fprintf(s.out, "\n%s\n%s\n", msg, resumeHint)
	return err
}

// Resume lets frames through again and reports whether the screen was
// paused.
func (s *Screen) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.paused
	s.paused = false
	s.held = ""
	return was
}

// Paused reports whether frames are being dropped.
func (s *Screen) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Held returns the message on screen, or "" when none is.
func (s *Screen) Held() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
