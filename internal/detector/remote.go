package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ollama/ollama/api"

	"github.com/dudu/yolocam/internal/frame"
)

const remotePrompt = `Detect the objects in this image. Reply with JSON only, in the form
{"objects":[{"label":"<name>","score":<0..1>,"box":[x1,y1,x2,y2]}]}
where box coordinates are fractions of the image width and height.`

// RemoteConfig configures the Ollama vision backend
type RemoteConfig struct {
	URL         string
	Model       string
	Timeout     time.Duration
	JPEGQuality int
	MinScore    float32
	Labels      []string // optional; maps returned labels to class ids
}

// chatClient is the subset of *api.Client the backend needs
type chatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Remote asks a vision language model served by Ollama for detections
type Remote struct {
	client chatClient
	config RemoteConfig
	mu     sync.Mutex
	buf    bytes.Buffer
}

// NewRemote creates the backend for the server at config.URL
func NewRemote(config RemoteConfig) (*Remote, error) {
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", config.URL)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name required")
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return newRemote(api.NewClient(base, http.DefaultClient), config), nil
}

func newRemote(client chatClient, config RemoteConfig) *Remote {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = 85
	}
	return &Remote{client: client, config: config}
}

// Name identifies the backend
func (r *Remote) Name() string {
	return "ollama:" + r.config.Model
}

// Classify sends the frame as JPEG and parses the model's JSON reply
func (r *Remote) Classify(ctx context.Context, f *frame.NormalizedFrame) ([]Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Reset()
	img := f.ToNRGBA(nil)
	if err := imaging.Encode(&r.buf, img, imaging.JPEG, imaging.JPEGQuality(r.config.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: r.config.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: remotePrompt,
				Images:  []api.ImageData{api.ImageData(r.buf.Bytes())},
			},
		},
		Stream: &streamFalse,
		Options: map[string]any{
			"temperature": 0,
		},
	}

	var content string
	err := r.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return parseRemoteDetections(content, r.config.Labels, r.config.MinScore)
}

// Close is a no-op; the HTTP client holds no per-backend resources
func (r *Remote) Close() error {
	return nil
}

type remoteReply struct {
	Objects []struct {
		Label string    `json:"label"`
		Score float32   `json:"score"`
		Box   []float32 `json:"box"`
	} `json:"objects"`
}

func parseRemoteDetections(raw string, labels []string, minScore float32) ([]Detection, error) {
	raw = sanitizeModelJSON(raw)

	var reply remoteReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse model reply: %w", err)
	}

	dets := make([]Detection, 0, len(reply.Objects))
	for _, o := range reply.Objects {
		if len(o.Box) != 4 || o.Score < minScore {
			continue
		}
		box := BoundingBox{X1: o.Box[0], Y1: o.Box[1], X2: o.Box[2], Y2: o.Box[3]}.Clamp(1, 1)
		if box.Area() <= 0 {
			continue
		}
		dets = append(dets, Detection{
			Label:   o.Label,
			ClassID: classIndex(labels, o.Label),
			Score:   o.Score,
			Box:     box,
		})
	}
	sortByScore(dets)
	return dets, nil
}

func classIndex(labels []string, label string) int {
	for i, l := range labels {
		if strings.EqualFold(l, label) {
			return i
		}
	}
	return -1
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline       = regexp.MustCompile(`(?m)//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
