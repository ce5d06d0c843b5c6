package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DefaultRoboflowURL is the hosted inference endpoint.
const DefaultRoboflowURL = "https://detect.roboflow.com"

// RoboflowConfig configures a RoboflowDetector.
type RoboflowConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Version string
	// MinConfidence is forwarded to the server as a percentage.
	MinConfidence float64
	Timeout       time.Duration
	Client        *http.Client
	Logger        logrus.FieldLogger
}

// RoboflowDetector implements ObjectDetector against a Roboflow-compatible
// hosted inference endpoint.
type RoboflowDetector struct {
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

// NewRoboflowDetector validates cfg and builds the request endpoint.
func NewRoboflowDetector(cfg RoboflowConfig) (*RoboflowDetector, error) {
	if cfg.APIKey == "" || cfg.Model == "" || cfg.Version == "" {
		return nil, errors.New("roboflow: api key, model and version are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRoboflowURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/" + url.PathEscape(cfg.Model) + "/" + url.PathEscape(cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("roboflow: %w", err)
	}
	q := u.Query()
	q.Set("api_key", cfg.APIKey)
	if cfg.MinConfidence > 0 {
		q.Set("confidence", strconv.FormatFloat(cfg.MinConfidence*100, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()

	return &RoboflowDetector{
		endpoint: u.String(),
		client:   client,
		log:      log.WithField("component", "roboflow"),
	}, nil
}

// DetectObjects encodes frame as JPEG and runs inference on it.
func (r *RoboflowDetector) DetectObjects(frame *gocv.Mat) ([]Detection, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return r.DetectJPEG(context.Background(), buf.GetBytes())
}

// DetectJPEG runs inference on an already encoded image.
func (r *RoboflowDetector) DetectJPEG(ctx context.Context, jpeg []byte) ([]Detection, error) {
	body := base64.StdEncoding.EncodeToString(jpeg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("roboflow: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roboflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("roboflow: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Predictions []Detection `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("roboflow: decode: %w", err)
	}
	r.log.WithField("count", len(out.Predictions)).Debug("objects detected")
	return out.Predictions, nil
}

// Close is a no-op; the HTTP client holds no per-detector resources.
func (r *RoboflowDetector) Close() error {
	return nil
}
