package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DevSender stores every message as a JSON file in dir instead of sending it.
// It is used when Postmark is not configured.
type DevSender struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	seq int
}

func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir, now: time.Now}
}

type devMessage struct {
	SendEmailParams
	SentAt time.Time `json:"sent_at"`
}

func (d *DevSender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(devMessage{SendEmailParams: params, SentAt: d.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToSendEmail, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToSendEmail, err)
	}
	d.seq++
	name := fmt.Sprintf("%s_%04d_%s.json", d.now().UTC().Format("20060102T150405"), d.seq, fileLabel(params))
	if err := os.WriteFile(filepath.Join(d.dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToSendEmail, err)
	}
	return nil
}

// fileLabel is the tag, or the subject when untagged, reduced to [a-z0-9_-].
func fileLabel(p SendEmailParams) string {
	label := p.Tag
	if label == "" {
		label = p.Subject
	}
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ':
			return '_'
		}
		return -1
	}, label)
	if len(label) > 64 {
		label = label[:64]
	}
	if label == "" {
		return "email"
	}
	return label
}
