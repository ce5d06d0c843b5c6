package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell plugin in a temp dir.
func writeScript(t *testing.T, name, body string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Plugin{
		Manifest: Manifest{
			Name:       strings.TrimSuffix(name, ".sh"),
			Version:    "1.0.0",
			Executable: name,
			Events:     []string{"press", "release"},
		},
		Path:       dir,
		Executable: path,
	}
}

func TestExecutor_Execute(t *testing.T) {
	plugin := writeScript(t, "ok.sh", `cat <<'EOF'
{"success":true,"data":{"message":"clicked"}}
EOF
`)

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{
		Event:  "press",
		Target: "map",
		X:      120,
		Y:      80,
	})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !resp.Success {
		t.Errorf("expected success=true, got false")
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "clicked" {
		t.Errorf("expected message 'clicked', got %q", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	plugin := writeScript(t, "echo.sh", `INPUT=$(cat)
echo "{\"success\":true,\"data\":$INPUT}"
`)

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{
		Event:  "release",
		Target: "grid",
		X:      10.5,
		Y:      -3,
		Config: []byte(`{"button":"left"}`),
	})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var got Request
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("failed to unmarshal echoed request: %v", err)
	}
	if got.Event != "release" || got.Target != "grid" {
		t.Errorf("echoed event/target = %q/%q", got.Event, got.Target)
	}
	if got.X != 10.5 || got.Y != -3 {
		t.Errorf("echoed point = (%v, %v), want (10.5, -3)", got.X, got.Y)
	}
	if string(got.Config) != `{"button":"left"}` {
		t.Errorf("echoed config = %s", got.Config)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	plugin := writeScript(t, "slow.sh", "sleep 5\n")

	start := time.Now()
	_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), plugin, &Request{Event: "press"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected timeout error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestExecutor_TimeoutKillsChildren(t *testing.T) {
	// The background child holds stdout open and would outlive the script.
	plugin := writeScript(t, "spawn.sh", "(sleep 0.5; touch survived) &\nsleep 5\n")

	start := time.Now()
	_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), plugin, &Request{Event: "press"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	time.Sleep(time.Second)
	if _, err := os.Stat(filepath.Join(plugin.Path, "survived")); err == nil {
		t.Error("child process outlived the timed out plugin")
	}
}

func TestExecutor_ErrorResponse(t *testing.T) {
	plugin := writeScript(t, "fail.sh", `echo '{"success":false,"error":"no display"}'
`)

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{Event: "press"})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "no display") {
		t.Errorf("expected plugin error in message, got %v", err)
	}
	if resp == nil {
		t.Fatal("expected the response alongside the error")
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error != "no display" {
		t.Errorf("expected error 'no display', got %q", resp.Error)
	}
}

func TestExecutor_InvalidJSON(t *testing.T) {
	plugin := writeScript(t, "garbage.sh", "echo not-json\n")

	_, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{Event: "press"})
	if err == nil || !strings.Contains(err.Error(), "decode response of garbage") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestExecutor_NonZeroExit(t *testing.T) {
	plugin := writeScript(t, "exit.sh", "echo 'xdotool missing' >&2\nexit 3\n")

	_, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{Event: "press"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "xdotool missing") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestManifest_Handles(t *testing.T) {
	all := Manifest{}
	if !all.Handles("move") {
		t.Error("empty event list should handle every event")
	}

	some := Manifest{Events: []string{"press", "release"}}
	if !some.Handles("press") {
		t.Error("expected press to be handled")
	}
	if some.Handles("move") {
		t.Error("expected move to be ignored")
	}
}
