package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/registry"
	"github.com/camera-control/ccs/internal/tool"
)

// Sources identify the entry point a command arrived through.
const (
	SourceSocket    = "socket"
	SourceHTTP      = "http"
	SourceWebSocket = "ws"
	SourceInternal  = "internal"
)

// Request carries a command and where it came from.
type Request struct {
	Source  string
	Session string
	User    string
	Record  bool // deliver the outcome to the recorders
}

// Record describes one dispatched command for audit and telemetry sinks.
type Record struct {
	Time    time.Time
	Source  string
	Session string
	User    string
	Command string
	Tool    string
	Member  string
	Status  string
	Code    string
	Message string
	Latency time.Duration
}

// Recorder receives dispatched command records.
type Recorder interface {
	RecordCommand(rec Record)
}

// Snapshot is the attribute state of one tool.
type Snapshot struct {
	Tool       string                 `json:"tool"`
	Attributes map[string]interface{} `json:"attributes"`
	Errors     map[string]string      `json:"errors,omitempty"`
}

// Dispatcher resolves commands against the registry and runs them under the
// target tool's lock. It is shared by every entry point.
type Dispatcher struct {
	registry  *registry.Registry
	logger    *zap.Logger
	recorders []Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder adds a sink for command records.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorders = append(d.recorders, r)
		}
	}
}

// New creates a dispatcher over reg.
func New(reg *registry.Registry, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry: reg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry commands are resolved against.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch parses and runs one command line.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, line string) Reply {
	text := strings.TrimSpace(line)
	if text == "help" {
		return Reply{Status: StatusOK, Data: d.toolNames()}
	}

	cmd, err := Parse(text)
	if err != nil {
		return d.finish(req, cmd, time.Now(), nil, err)
	}
	return d.Execute(ctx, req, cmd)
}

// Get reads an attribute.
func (d *Dispatcher) Get(ctx context.Context, req Request, toolName, attr string) Reply {
	return d.Execute(ctx, req, Command{Tool: toolName, Member: attr, Op: OpGet})
}

// Set writes an attribute.
func (d *Dispatcher) Set(ctx context.Context, req Request, toolName, attr string, value interface{}) Reply {
	return d.Execute(ctx, req, Command{Tool: toolName, Member: attr, Op: OpSet, Value: value})
}

// Call invokes a method.
func (d *Dispatcher) Call(ctx context.Context, req Request, toolName, method string, args ...interface{}) Reply {
	if args == nil {
		args = []interface{}{}
	}
	return d.Execute(ctx, req, Command{Tool: toolName, Member: method, Op: OpCall, Args: args})
}

// Execute runs a parsed command.
func (d *Dispatcher) Execute(ctx context.Context, req Request, cmd Command) Reply {
	start := time.Now()

	entry, err := d.registry.Entry(cmd.Tool)
	if err != nil {
		return d.finish(req, cmd, start, nil, err)
	}
	t := entry.Tool
	desc := t.Describe()
	subject := cmd.Tool + "." + cmd.Member

	_, isAttr := desc.Attr(cmd.Member)
	method, isMethod := desc.Method(cmd.Member)

	var (
		exclusive bool
		call      func() (interface{}, error)
	)
	switch {
	case cmd.Op == OpSet:
		if !isAttr {
			return d.finish(req, cmd, start, nil, tool.NewError(tool.ErrUnknownMethod, subject, nil))
		}
		exclusive = true
		call = func() (interface{}, error) { return nil, t.Set(cmd.Member, cmd.Value) }
	case isAttr && (cmd.Op == OpMember || cmd.Op == OpGet):
		call = func() (interface{}, error) { return t.Get(cmd.Member) }
	case isAttr:
		return d.finish(req, cmd, start, nil,
			tool.Errorf(tool.ErrArgument, subject, "attribute takes no arguments, use %s=value", subject))
	case isMethod && cmd.Op != OpGet:
		exclusive = method.Mutating
		args := cmd.Args
		call = func() (interface{}, error) { return t.Invoke(ctx, cmd.Member, args) }
	default:
		return d.finish(req, cmd, start, nil, tool.NewError(tool.ErrUnknownMethod, subject, nil))
	}

	var data interface{}
	entry.Do(exclusive, func() {
		data, err = guard(subject, call)
	})
	return d.finish(req, cmd, start, data, err)
}

// guard runs call, converting panics and foreign errors into
// ToolOperationError.
func guard(subject string, call func() (interface{}, error)) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = tool.NewError(tool.ErrToolOperation, subject,
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	data, err = call()
	if err != nil {
		var cmdErr *tool.CommandError
		if !errors.As(err, &cmdErr) {
			err = tool.NewError(tool.ErrToolOperation, subject, err)
		}
		return nil, err
	}
	return data, nil
}

func (d *Dispatcher) finish(req Request, cmd Command, start time.Time, data interface{}, err error) Reply {
	reply := Reply{Status: StatusOK, Data: data}
	if err != nil {
		reply = Reply{Status: StatusError, Code: tool.Code(err), Message: firstLine(tool.Message(err))}
		d.logger.Warn("Command failed",
			zap.String("source", req.Source),
			zap.String("session", req.Session),
			zap.String("command", cmd.String()),
			zap.String("code", reply.Code),
			zap.Error(err))
	} else {
		d.logger.Debug("Command dispatched",
			zap.String("source", req.Source),
			zap.String("session", req.Session),
			zap.String("command", cmd.String()))
	}

	if req.Record && len(d.recorders) > 0 {
		rec := Record{
			Time:    start,
			Source:  req.Source,
			Session: req.Session,
			User:    req.User,
			Command: cmd.String(),
			Tool:    cmd.Tool,
			Member:  cmd.Member,
			Status:  reply.Status,
			Code:    reply.Code,
			Message: reply.Message,
			Latency: time.Since(start),
		}
		for _, r := range d.recorders {
			r.RecordCommand(rec)
		}
	}
	return reply
}

// Snapshot reads every attribute of one tool under a single shared lock.
func (d *Dispatcher) Snapshot(ctx context.Context, toolName string) (Snapshot, error) {
	entry, err := d.registry.Entry(toolName)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Tool: toolName, Attributes: make(map[string]interface{})}
	desc := entry.Tool.Describe()

	entry.Do(false, func() {
		for _, a := range desc.Attrs {
			if ctx.Err() != nil {
				return
			}
			v, err := guard(toolName+"."+a.Name, func() (interface{}, error) { return entry.Tool.Get(a.Name) })
			if err != nil {
				if snap.Errors == nil {
					snap.Errors = make(map[string]string)
				}
				snap.Errors[a.Name] = firstLine(tool.Message(err))
				continue
			}
			snap.Attributes[a.Name] = v
		}
	})
	return snap, ctx.Err()
}

// Status snapshots every registered tool in registration order, skipping
// the names in exclude.
func (d *Dispatcher) Status(ctx context.Context, exclude ...string) ([]Snapshot, error) {
	var out []Snapshot
	for name := range d.registry.List() {
		if slices.Contains(exclude, name) {
			continue
		}
		snap, err := d.Snapshot(ctx, name)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (d *Dispatcher) toolNames() []string {
	var names []string
	for name := range d.registry.List() {
		names = append(names, name)
	}
	return names
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
