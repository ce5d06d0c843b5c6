// Package config loads mediamap settings from a JSON file, a .env file and
// MEDIAMAP_* environment variables, in that order of precedence (later
// wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mediamap/internal/viewport"
	"github.com/ayusman/mediamap/internal/zoning"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Environments.
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Duration is a time.Duration written as a string like "500ms" in JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Bare numbers are read as
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"500ms\": %s", data)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Size is a pixel size. Zero means "detect at runtime".
type Size struct {
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// Config is the root configuration.
type Config struct {
	Environment string `json:"environment" validate:"oneof=development production test"`
	// Addr is the HTTP listen address.
	Addr string `json:"addr" validate:"required"`
	// DataDir holds the database, log files and grid seed.
	DataDir string `json:"data_dir"`
	// DBPath defaults to DataDir/mediamap.db.
	DBPath string `json:"db_path"`
	// TickInterval is the pipeline period.
	TickInterval Duration `json:"tick_interval" validate:"gt=0"`
	// StartEnabled starts the pipeline without waiting for the tray or API.
	StartEnabled bool `json:"start_enabled"`

	Camera   CameraConfig   `json:"camera"`
	Display  Size           `json:"display"`
	Surface  Size           `json:"surface"`
	Hands    HandsConfig    `json:"hands"`
	Objects  ObjectsConfig  `json:"objects"`
	Gestures GestureConfig  `json:"gestures"`
	Input    InputConfig    `json:"input"`
	Viewport ViewportConfig `json:"viewport"`
	Grid     GridConfig     `json:"grid"`
	Trips    TripsConfig    `json:"trips"`
	Redis    RedisConfig    `json:"redis"`
	Log      LogConfig      `json:"log"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	DeviceID int `json:"device_id" validate:"gte=0"`
	Width    int `json:"width" validate:"gt=0"`
	Height   int `json:"height" validate:"gt=0"`
	FPS      int `json:"fps" validate:"gt=0"`
}

// HandsConfig configures the MediaPipe hand detector.
type HandsConfig struct {
	Enabled               bool     `json:"enabled"`
	MaxHands              int      `json:"max_hands" validate:"gte=1,lte=4"`
	MinConfidence         float64  `json:"min_confidence" validate:"gte=0,lte=1"`
	MinTrackingConfidence float64  `json:"min_tracking_confidence" validate:"gte=0,lte=1"`
	ScriptPath            string   `json:"script_path"`
	PythonPath            string   `json:"python_path"`
	IdleTimeout           Duration `json:"idle_timeout" validate:"gte=0"`
}

// ObjectsConfig configures the Roboflow object detector. Detection is off
// unless Enabled is set and a key, model and version are given.
type ObjectsConfig struct {
	Enabled       bool     `json:"enabled"`
	URL           string   `json:"url" validate:"omitempty,url"`
	APIKey        string   `json:"api_key" validate:"required_if=Enabled true"`
	Model         string   `json:"model" validate:"required_if=Enabled true"`
	Version       string   `json:"version" validate:"required_if=Enabled true"`
	MinConfidence float64  `json:"min_confidence" validate:"gte=0,lte=1"`
	Exclude       []string `json:"exclude"`
	// MotionThreshold is the percentage of changed pixels that counts as
	// motion; detection only runs while motion is seen or within
	// MotionHold of it.
	MotionThreshold float64  `json:"motion_threshold" validate:"gte=0,lte=100"`
	MotionHold      Duration `json:"motion_hold" validate:"gte=0"`
	// ClicksPerSecond and ClickBurst throttle synthesized clicks.
	ClicksPerSecond float64 `json:"clicks_per_second" validate:"gte=0"`
	ClickBurst      int     `json:"click_burst" validate:"gte=0"`
}

// GestureConfig tunes the gesture interpreter.
type GestureConfig struct {
	Mode string `json:"mode" validate:"oneof=viewport pointer"`
	// PanActivation is "distance" (pinch closer than PanThreshold) or
	// "scale_ratio" (thumb segment length over pinch distance above
	// PanRatioThreshold).
	PanActivation     string  `json:"pan_activation" validate:"oneof=distance scale_ratio"`
	PanThreshold      float64 `json:"pan_threshold" validate:"gt=0"`
	PanRatioThreshold float64 `json:"pan_ratio_threshold" validate:"gt=0"`
	PinchThreshold    float64 `json:"pinch_threshold" validate:"gt=0"`
	Alpha             float64 `json:"alpha" validate:"gte=0,lte=1"`
	DeadZone          float64 `json:"dead_zone" validate:"gte=0"`
	PanGain           float64 `json:"pan_gain"`
	ZoomGain          float64 `json:"zoom_gain"`
	RotateGain        float64 `json:"rotate_gain"`
	TiltGain          float64 `json:"tilt_gain"`
}

// InputConfig selects where synthesized pointer events go besides the
// zoning grid and the websocket hub.
type InputConfig struct {
	// Sink is "desktop" (robotgo), "plugin" or "none".
	Sink   string `json:"sink" validate:"oneof=desktop plugin none"`
	Plugin string `json:"plugin" validate:"required_if=Sink plugin"`
	// PluginDir is searched for plugin manifests.
	PluginDir     string   `json:"plugin_dir"`
	PluginTimeout Duration `json:"plugin_timeout" validate:"gte=0"`
	Button        string   `json:"button" validate:"omitempty,oneof=left right center"`
}

// ViewportConfig is the initial map camera and its bounds.
type ViewportConfig struct {
	Initial viewport.State  `json:"initial"`
	Limits  viewport.Limits `json:"limits"`
}

// GridConfig locates the zoning grid used when none is stored yet.
type GridConfig struct {
	SeedPath string      `json:"seed_path"`
	BBox     zoning.BBox `json:"bbox"`
	CellKm   float64     `json:"cell_km" validate:"gt=0"`
}

// TripsConfig configures the trips service. An empty URL disables trips.
type TripsConfig struct {
	URL            string   `json:"url" validate:"omitempty,url"`
	TripsPerPerson int      `json:"trips_per_person" validate:"gte=1"`
	Debounce       Duration `json:"debounce" validate:"gte=0"`
}

// RedisConfig selects the Redis sync bus. An empty Addr keeps the bus in
// memory.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db" validate:"gte=0"`
	Prefix   string `json:"prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level" validate:"oneof=trace debug info warn error"`
	// File is the rotating log file. Resolve defaults it under DataDir.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" validate:"gte=0"`
	NoColors   bool   `json:"no_colors"`
}

// Default returns the built-in configuration. The map starts over central
// Lima where the default grid is laid out.
func Default() *Config {
	return &Config{
		Environment:  Production,
		Addr:         ":8080",
		TickInterval: Duration(66 * time.Millisecond),
		Camera:       CameraConfig{Width: 640, Height: 480, FPS: 15},
		Surface:      Size{Width: 1920, Height: 1080},
		Hands: HandsConfig{
			Enabled:               true,
			MaxHands:              1,
			MinConfidence:         0.5,
			MinTrackingConfidence: 0.5,
			IdleTimeout:           Duration(30 * time.Second),
		},
		Objects: ObjectsConfig{
			URL:             "https://detect.roboflow.com",
			MinConfidence:   0.5,
			Exclude:         []string{"base", "pooltable"},
			MotionThreshold: 1.0,
			MotionHold:      Duration(2 * time.Second),
			ClicksPerSecond: 2,
			ClickBurst:      1,
		},
		Gestures: GestureConfig{
			Mode:              "viewport",
			PanActivation:     "distance",
			PanThreshold:      0.05,
			PanRatioThreshold: 0.5,
			PinchThreshold:    0.1,
			Alpha:             0.8,
			DeadZone:          1e-3,
			PanGain:           20,
			ZoomGain:          20,
			RotateGain:        10,
			TiltGain:          10,
		},
		Input: InputConfig{
			Sink:          "none",
			PluginTimeout: Duration(5 * time.Second),
			Button:        "left",
		},
		Viewport: ViewportConfig{
			Initial: viewport.State{Longitude: -77.055, Latitude: -12.044, Zoom: 14.5},
			Limits:  viewport.DefaultLimits(),
		},
		Grid: GridConfig{
			BBox:   zoning.BBox{MinLon: -77.075, MinLat: -12.064, MaxLon: -77.035, MaxLat: -12.024},
			CellKm: 0.5,
		},
		Trips: TripsConfig{
			TripsPerPerson: 2,
			Debounce:       Duration(time.Second),
		},
		Redis: RedisConfig{Prefix: "mediamap:"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads path over Default, then applies the environment. An empty
// path skips the file. The file must have a .json extension and be under
// 1MB. Fields omitted from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		cleanPath := filepath.Clean(path)
		if ext := filepath.Ext(cleanPath); ext != ".json" {
			return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
		}
		info, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
		}
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MEDIAMAP_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("MEDIAMAP_ENV", &c.Environment)
	str("MEDIAMAP_ADDR", &c.Addr)
	str("MEDIAMAP_DATA_DIR", &c.DataDir)
	str("MEDIAMAP_DB_PATH", &c.DBPath)
	str("MEDIAMAP_REDIS_ADDR", &c.Redis.Addr)
	str("MEDIAMAP_REDIS_PASSWORD", &c.Redis.Password)
	str("MEDIAMAP_ROBOFLOW_API_KEY", &c.Objects.APIKey)
	str("MEDIAMAP_ROBOFLOW_MODEL", &c.Objects.Model)
	str("MEDIAMAP_ROBOFLOW_VERSION", &c.Objects.Version)
	str("MEDIAMAP_TRIPS_URL", &c.Trips.URL)
	str("MEDIAMAP_LOG_LEVEL", &c.Log.Level)

	if err := integer("MEDIAMAP_CAMERA_ID", &c.Camera.DeviceID); err != nil {
		return err
	}
	if c.Objects.APIKey != "" && c.Objects.Model != "" && c.Objects.Version != "" {
		c.Objects.Enabled = true
	}
	return nil
}

// Resolve fills the paths left empty from DataDir, which defaults to
// ~/.mediamap.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".mediamap")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "mediamap.db")
	}
	if c.Input.PluginDir == "" {
		c.Input.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "logs", "mediamap.log")
	}
	return nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// IsDevelopment reports whether the development environment is selected.
func (c *Config) IsDevelopment() bool { return c.Environment == Development }
