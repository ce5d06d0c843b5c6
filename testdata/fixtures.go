// Package testdata embeds recorded hand landmark sequences for replay tests.
package testdata

import (
	"embed"
	"fmt"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mediamap/internal/detector"
)

//go:embed hands/*.json
var handsFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sequence names.
const (
	// PanRight is a thumb-index pinch held while sliding right, then
	// released.
	PanRight = "pan_right"
	// ZoomIn is a thumb-middle pinch moving towards the camera.
	ZoomIn = "zoom_in"
	// Idle alternates no hand and an open palm; no channel engages.
	Idle = "idle"
)

// LoadHands loads a sequence of detector results, one entry per frame.
func LoadHands(name string) ([][]detector.HandLandmarks, error) {
	data, err := handsFS.ReadFile(path.Join("hands", name+".json"))
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", name, err)
	}

	var frames [][]detector.HandLandmarks
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("decode sequence %s: %w", name, err)
	}
	return frames, nil
}

// Sequences lists the embedded sequence names.
func Sequences() ([]string, error) {
	entries, err := handsFS.ReadDir("hands")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}
