package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const scriptName = "mediapipe_service.py"

type serviceState int

const (
	stateStopped serviceState = iota
	stateLoading
	stateReady
)

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// The service is started in the background on the first Detect call. It
// announces itself with a {"ready":true} line once the model is loaded;
// until then Detect returns ErrNotReady. Each frame is sent as a 4-byte
// big-endian length followed by JPEG data, and answered with one JSON line.
type MediaPipeDetector struct {
	config Config
	script string
	python string
	log    logrus.FieldLogger

	mu        sync.Mutex
	state     serviceState
	loadErr   error
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	idleTimer *time.Timer
	loaded    chan struct{}
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	script := config.ScriptPath
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", scriptName)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("mediapipe script: %w", err)
	}

	python := config.PythonPath
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &MediaPipeDetector{
		config: config,
		script: script,
		python: python,
		log:    log.WithField("component", "mediapipe"),
	}, nil
}

// Ready reports whether the service has loaded its model.
func (d *MediaPipeDetector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateReady
}

// Detect analyzes a frame and returns detected hand landmarks. It returns
// ErrNotReady while the service is starting.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateStopped:
		if d.loadErr != nil {
			err := d.loadErr
			d.loadErr = nil
			return nil, err
		}
		if err := d.start(); err != nil {
			return nil, err
		}
		return nil, ErrNotReady
	case stateLoading:
		return nil, ErrNotReady
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	hands, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the service unusable; restart on next frame.
		d.log.WithError(err).Warn("mediapipe service failed, restarting")
		d.shutdown()
		return nil, err
	}

	d.resetIdleTimer()
	return hands, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	loaded := d.loaded
	loading := d.state == stateLoading
	if loading {
		d.cmd.Process.Kill()
	}
	d.mu.Unlock()

	// The killed service unblocks awaitReady, which reaps it.
	if loading {
		<-loaded
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) roundTrip(data []byte) ([]HandLandmarks, error) {
	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(line)
}

// start launches the service and waits for its ready line in the
// background. Must be called with d.mu held.
func (d *MediaPipeDetector) start() error {
	cmd := exec.Command(d.python, d.script,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.state = stateLoading
	d.loaded = make(chan struct{})
	d.log.WithField("script", d.script).Info("starting mediapipe service")

	go d.awaitReady(cmd, d.stdout, d.loaded)
	return nil
}

func (d *MediaPipeDetector) awaitReady(cmd *exec.Cmd, r *bufio.Reader, loaded chan struct{}) {
	defer close(loaded)

	line, err := r.ReadBytes('\n')
	if err == nil {
		var msg struct {
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		}
		switch {
		case json.Unmarshal(line, &msg) != nil:
			err = fmt.Errorf("unexpected handshake %q", line)
		case msg.Error != "":
			err = errors.New(msg.Error)
		case !msg.Ready:
			err = errors.New("service did not report ready")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != cmd {
		return
	}
	if err != nil {
		d.log.WithError(err).Error("mediapipe service failed to load")
		d.shutdown()
		d.loadErr = fmt.Errorf("mediapipe service: %w", err)
		return
	}
	d.state = stateReady
	d.resetIdleTimer()
	d.log.Info("mediapipe service ready")
}

// shutdown stops the service. Must be called with d.mu held.
func (d *MediaPipeDetector) shutdown() error {
	if d.state == stateStopped {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.state = stateStopped
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

// resetIdleTimer must be called with d.mu held.
func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	cmd := d.cmd
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.cmd != cmd {
			return
		}
		d.log.Debug("mediapipe service idle, stopping")
		d.shutdown()
	})
}

func findMediaPipeScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", scriptName),
		filepath.Join("..", "scripts", scriptName),
		filepath.Join(execDir, "scripts", scriptName),
		filepath.Join(os.Getenv("HOME"), ".mediamap", "scripts", scriptName),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
// It checks for venv/bin/python relative to the project directory.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mediamap/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	copy(lm.Points[:], h.Points)
	return lm
}

func parseResponse(line []byte) ([]HandLandmarks, error) {
	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("mediapipe: %s", response.Error)
	}

	result := make([]HandLandmarks, len(response.Hands))
	for i, h := range response.Hands {
		result[i] = h.toHandLandmarks()
	}
	return result, nil
}
