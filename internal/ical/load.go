package ical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	appLog "eventdir/internal/log"
	"eventdir/internal/model"
)

// DefaultMaxBody caps the size of a fetched calendar.
const DefaultMaxBody = 16 << 20

// ErrTooLarge is returned for calendars over the loader's size limit.
var ErrTooLarge = errors.New("ical: calendar too large")

// Loader reads calendars from local files or http(s) URLs.
type Loader struct {
	client  *http.Client
	maxBody int64
}

// NewLoader returns a Loader with a bounded HTTP timeout. A nil client
// means a default one.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Loader{client: client, maxBody: DefaultMaxBody}
}

// Load reads src and parses its events.
func (l *Loader) Load(ctx context.Context, src, defaultTZ string) ([]*model.Event, error) {
	body, err := l.read(ctx, src)
	if err != nil {
		return nil, err
	}
	return Parse(body, defaultTZ)
}

func (l *Loader) read(ctx context.Context, src string) ([]byte, error) {
	if src == "" {
		return nil, errors.New("ical: source is empty")
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		appLog.Info("ical: reading file", "path", src)
		return os.ReadFile(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}

	appLog.Info("ical: fetch start", "url", redactURL(src))
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ical: fetch %s: %s", redactURL(src), resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.maxBody {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrTooLarge, redactURL(src), l.maxBody)
	}
	appLog.Info("ical: fetch success", "url", redactURL(src), "bytes", len(body))
	return body, nil
}

// redactURL keeps scheme and host only; calendar URLs often carry tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "ical://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j != -1 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
