package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/params"
	"github.com/camera-control/ccs/internal/tool"
)

// ServerToolName is the registry name of the server tool.
const ServerToolName = "server"

// serverTool answers questions about the server itself.
type serverTool struct {
	*tool.Base

	systemName string
	version    string
	started    time.Time
	params     *params.Store

	// set once the dispatcher exists, before the registry is sealed
	dispatcher *dispatch.Dispatcher
}

func newServerTool(systemName, version string, store *params.Store) *serverTool {
	s := &serverTool{
		Base:       tool.NewBase(ServerToolName, "server information"),
		systemName: systemName,
		version:    version,
		started:    time.Now(),
		params:     store,
	}

	s.Attribute(tool.Attr{Name: "version", Kind: tool.KindString},
		func() (interface{}, error) { return s.version, nil }, nil)
	s.Attribute(tool.Attr{Name: "systemname", Kind: tool.KindString},
		func() (interface{}, error) { return s.systemName, nil }, nil)
	s.Attribute(tool.Attr{Name: "uptime", Kind: tool.KindFloat, Help: "seconds since start"},
		func() (interface{}, error) { return time.Since(s.started).Round(time.Millisecond).Seconds(), nil }, nil)

	s.Method(tool.Method{Name: "tools", Help: "registered tool names"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			var names []string
			for name := range s.dispatcher.Registry().List() {
				names = append(names, name)
			}
			return names, nil
		})
	s.Method(tool.Method{Name: "status", Help: "attribute values of every tool"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			snapshots, err := s.dispatcher.Status(ctx, ServerToolName)
			if err != nil {
				return nil, err
			}
			status := make(map[string]interface{}, len(snapshots))
			for _, snap := range snapshots {
				status[snap.Tool] = snap.Attributes
			}
			return status, nil
		})
	s.Method(tool.Method{
		Name:   "help",
		Params: []tool.Param{{Name: "tool", Kind: tool.KindString}},
		Help:   "attributes and method signatures of a tool",
	}, s.help)
	s.Method(tool.Method{
		Name:     "save_parameters",
		Params:   []tool.Param{{Name: "path", Kind: tool.KindString, Optional: true}},
		Mutating: true,
		Help:     "write current values of the parameter file entries",
	}, s.saveParameters)
	return s
}

func (s *serverTool) help(ctx context.Context, args []interface{}) (interface{}, error) {
	t, err := s.dispatcher.Registry().Get(args[0].(string))
	if err != nil {
		return nil, err
	}
	desc := t.Describe()

	lines := make([]string, 0, len(desc.Attrs)+len(desc.Methods))
	for _, a := range desc.Attrs {
		line := fmt.Sprintf("%s %s", a.Name, a.Kind)
		if a.ReadOnly {
			line += " (read-only)"
		}
		lines = append(lines, line)
	}
	for _, m := range desc.Methods {
		params := make([]string, len(m.Params))
		for i, p := range m.Params {
			params[i] = p.Name + " " + string(p.Kind)
			if p.Optional {
				params[i] = "[" + params[i] + "]"
			}
		}
		lines = append(lines, fmt.Sprintf("%s(%s)", m.Name, strings.Join(params, ", ")))
	}
	return lines, nil
}

// saveParameters reads the current value of every parameter entry and
// writes the file back.
func (s *serverTool) saveParameters(ctx context.Context, args []interface{}) (interface{}, error) {
	path := s.params.Path()
	if len(args) > 0 {
		path = args[0].(string)
	}
	if path == "" {
		return nil, tool.Errorf(tool.ErrArgument, "server.save_parameters", "no parameter file path")
	}

	req := dispatch.Request{Source: dispatch.SourceInternal}
	for _, e := range s.params.Entries() {
		if e.Tool == ServerToolName {
			continue
		}
		reply := s.dispatcher.Get(ctx, req, e.Tool, e.Attr)
		if !reply.OK() {
			return nil, tool.Errorf(tool.ErrToolOperation, "server.save_parameters", "%s: %s", e.Key(), reply.Message)
		}
		if err := s.params.Set(e.Key(), reply.Data); err != nil {
			return nil, tool.NewError(tool.ErrToolOperation, "server.save_parameters", err)
		}
	}
	if err := s.params.Save(path); err != nil {
		return nil, tool.NewError(tool.ErrToolOperation, "server.save_parameters", err)
	}
	return path, nil
}
