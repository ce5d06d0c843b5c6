// Package main provides a pointer plugin for X11 desktops.
// It moves the pointer and presses or releases a mouse button via xdotool.
package main

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request represents the input from the plugin executor.
type Request struct {
	Event  string          `json:"event"`
	Target string          `json:"target"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Config jsoniter.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

// Config is the optional per-sink configuration.
type Config struct {
	Button int `json:"button"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	cfg := Config{Button: 1}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}

	x := strconv.Itoa(int(math.Round(req.X)))
	y := strconv.Itoa(int(math.Round(req.Y)))
	button := strconv.Itoa(cfg.Button)

	var args []string
	switch req.Event {
	case "press":
		args = []string{"mousemove", x, y, "mousedown", button}
	case "move":
		args = []string{"mousemove", x, y}
	case "release":
		args = []string{"mousemove", x, y, "mouseup", button}
	default:
		writeErrorResponse(fmt.Sprintf("unknown event: %s", req.Event))
		return
	}

	if err := runXdotool(args...); err != nil {
		writeErrorResponse(fmt.Sprintf("event %s failed: %v", req.Event, err))
		return
	}
	writeSuccessResponse()
}

// runXdotool executes xdotool with args and returns any error.
func runXdotool(args ...string) error {
	output, err := exec.Command("xdotool", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}
