package dispatch

import (
	"context"
	"testing"
)

func TestLineSession(t *testing.T) {
	d := newTestDispatcher(t)
	s := NewLineSession(d, Request{Source: SourceSocket, Session: "s1"})
	ctx := context.Background()

	steps := []struct {
		line    string
		reply   string
		quit    bool
		verbose bool
	}{
		{"tempcon.get_temperatures", "OK -100.0 21.5", false, false},
		{"verbose on", "OK", false, true},
		{"tempcon.get_temperatures", "OK [-100,21.5]", false, true},
		{"VERBOSE off", "OK", false, false},
		{"verbose loud", "ERROR ArgumentError usage: verbose on|off", false, false},
		{"verbose", "ERROR ArgumentError usage: verbose on|off", false, false},
		{"tempcon.control_temperature", "OK -100.0", false, false},
		{"quit", "OK", true, false},
	}
	for _, step := range steps {
		reply, quit := s.Handle(ctx, step.line)
		if reply != step.reply {
			t.Errorf("%q: expected reply %q, got %q", step.line, step.reply, reply)
		}
		if quit != step.quit {
			t.Errorf("%q: expected quit=%v, got %v", step.line, step.quit, quit)
		}
		if s.Verbose() != step.verbose {
			t.Errorf("%q: expected verbose=%v", step.line, step.verbose)
		}
	}
}

func TestLineSessionQuitWords(t *testing.T) {
	d := newTestDispatcher(t)
	for _, word := range []string{"quit", "exit", "close", "EXIT"} {
		s := NewLineSession(d, Request{Source: SourceSocket})
		if reply, quit := s.Handle(context.Background(), word); reply != "OK" || !quit {
			t.Errorf("%s: expected OK and quit, got %q %v", word, reply, quit)
		}
	}

	// extra words make it an ordinary command line
	s := NewLineSession(d, Request{Source: SourceSocket})
	if reply, quit := s.Handle(context.Background(), "quit now"); quit || reply == "OK" {
		t.Errorf("Expected quit with arguments to be dispatched, got %q %v", reply, quit)
	}
}
