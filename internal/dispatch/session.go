package dispatch

import (
	"context"
	"strings"

	"github.com/camera-control/ccs/internal/tool"
)

// LineSession answers one line-protocol client. Besides commands it handles
// the session built-ins: quit, exit and close end the session, and
// "verbose on|off" switches OK data to JSON.
type LineSession struct {
	dispatcher *Dispatcher
	req        Request
	verbose    bool
}

// NewLineSession creates a session whose commands are dispatched as req.
func NewLineSession(d *Dispatcher, req Request) *LineSession {
	return &LineSession{dispatcher: d, req: req}
}

// Verbose reports whether the session is in verbose mode.
func (s *LineSession) Verbose() bool {
	return s.verbose
}

// Handle answers one non-blank line. quit is true when the client asked to
// end the session; the reply must still be sent.
func (s *LineSession) Handle(ctx context.Context, line string) (reply string, quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return s.dispatcher.Dispatch(ctx, s.req, line).Line(s.verbose), false
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "close":
		if len(fields) == 1 {
			return StatusOK, true
		}
	case "verbose":
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "on", "true", "1":
				s.verbose = true
				return StatusOK, false
			case "off", "false", "0":
				s.verbose = false
				return StatusOK, false
			}
		}
		return StatusError + " " + tool.ErrArgument.Error() + " usage: verbose on|off", false
	}

	return s.dispatcher.Dispatch(ctx, s.req, line).Line(s.verbose), false
}
