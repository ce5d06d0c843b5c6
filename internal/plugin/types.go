// Package plugin runs external executables that receive synthesized pointer
// events. A plugin lives in its own directory with a plugin.json manifest
// and speaks one JSON request on stdin, one JSON response on stdout.
package plugin

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest describes a plugin's metadata and the pointer events it handles.
type Manifest struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Description  string              `json:"description"`
	Executable   string              `json:"executable"`
	Events       []string            `json:"events"`
	ConfigSchema jsoniter.RawMessage `json:"configSchema,omitempty"`
}

// Handles reports whether the manifest lists event. An empty list handles
// every event.
func (m Manifest) Handles(event string) bool {
	if len(m.Events) == 0 {
		return true
	}
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request is one pointer event sent to a plugin. X and Y are absolute
// pixels in the target's space.
type Request struct {
	Event  string              `json:"event"`
	Target string              `json:"target"`
	X      float64             `json:"x"`
	Y      float64             `json:"y"`
	Config jsoniter.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
