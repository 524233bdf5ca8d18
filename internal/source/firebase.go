package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
	"github.com/Daneel-Li/feedback-dash/pkg/utils"

	"golang.org/x/time/rate"
)

// FirebaseSource reads one path of a Firebase realtime database through its REST api.
type FirebaseSource struct {
	baseURL      string
	path         string
	client       *http.Client
	stream       bool
	pollInterval time.Duration
	limiter      *rate.Limiter // 重连限流
}

type FirebaseOption func(*FirebaseSource)

// WithHTTPClient sets the client. A client with Timeout set will cut long streams.
func WithHTTPClient(c *http.Client) FirebaseOption {
	return func(s *FirebaseSource) { s.client = c }
}

func WithStream(stream bool) FirebaseOption {
	return func(s *FirebaseSource) { s.stream = stream }
}

func WithPollInterval(d time.Duration) FirebaseOption {
	return func(s *FirebaseSource) { s.pollInterval = d }
}

// WithReconnectLimit caps stream reconnects per second.
func WithReconnectLimit(qps float64) FirebaseOption {
	return func(s *FirebaseSource) { s.limiter = rate.NewLimiter(rate.Limit(qps), 1) }
}

func NewFirebaseSource(databaseURL, path string, opts ...FirebaseOption) *FirebaseSource {
	s := &FirebaseSource{
		baseURL:      strings.TrimRight(databaseURL, "/"),
		path:         strings.Trim(path, "/"),
		client:       http.DefaultClient,
		pollInterval: 30 * time.Second,
		limiter:      rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FirebaseSource) url() string {
	return s.baseURL + "/" + s.path + ".json"
}

func (s *FirebaseSource) Fetch(ctx context.Context) ([]mxm.Feedback, error) {
	body, err := utils.HttpGet(ctx, s.client, s.url())
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", s.path, err)
	}
	records, err := mxm.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", s.path, err)
	}
	return records, nil
}

func (s *FirebaseSource) Watch(ctx context.Context, fn func([]mxm.Feedback)) error {
	if !s.stream {
		return poll(ctx, "firebase:"+s.path, s.pollInterval, s.Fetch, fn)
	}
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reconnect limiter: %w", err)
		}
		err := s.listen(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("firebase stream closed, reconnecting", "path", s.path, "error", err)
	}
}

type streamPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// listen runs one event-stream connection until it breaks.
func (s *FirebaseSource) listen(ctx context.Context, fn func([]mxm.Feedback)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream failed, status code: %v", resp.StatusCode)
	}
	slog.Info("firebase stream connected", "path", s.path)

	var tree snapshotTree
	events := newEventReader(resp.Body)
	for {
		ev, err := events.Next()
		if err != nil {
			return err
		}
		switch ev.Name {
		case "put", "patch":
			var p streamPayload
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				slog.Error("invalid stream event", "path", s.path, "event", ev.Name, "error", err)
				continue
			}
			if ev.Name == "put" {
				tree.Put(p.Path, p.Data)
			} else if err := tree.Patch(p.Path, p.Data); err != nil {
				slog.Error("invalid patch event", "path", s.path, "error", err)
				continue
			}
			records, err := tree.Records()
			if err != nil {
				slog.Warn("collection is not an object, treating as empty", "path", s.path, "error", err)
				records = []mxm.Feedback{}
			}
			fn(records)
		case "keep-alive":
		case "cancel", "auth_revoked":
			return fmt.Errorf("stream %s: %s", ev.Name, ev.Data)
		default:
			slog.Debug("ignored stream event", "path", s.path, "event", ev.Name)
		}
	}
}
