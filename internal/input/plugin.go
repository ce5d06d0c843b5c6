package input

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mediamap/internal/geometry"
	"github.com/ayusman/mediamap/internal/plugin"
)

// PluginSink forwards events to an external plugin executable. Events the
// plugin's manifest does not list are dropped silently.
type PluginSink struct {
	executor *plugin.Executor
	plugin   *plugin.Plugin
	config   jsoniter.RawMessage
}

// NewPluginSink creates a sink for p. config is passed verbatim with every
// request.
func NewPluginSink(executor *plugin.Executor, p *plugin.Plugin, config jsoniter.RawMessage) *PluginSink {
	return &PluginSink{executor: executor, plugin: p, config: config}
}

// Raise implements Sink.
func (s *PluginSink) Raise(kind EventKind, p geometry.Point2D, target string) error {
	if !s.plugin.Manifest.Handles(string(kind)) {
		return nil
	}

	_, err := s.executor.Execute(context.Background(), s.plugin, &plugin.Request{
		Event:  string(kind),
		Target: target,
		X:      p.X,
		Y:      p.Y,
		Config: s.config,
	})
	return err
}
