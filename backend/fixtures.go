package backend

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/default.yaml
var embeddedFixtures embed.FS

type fixtureFile struct {
	Cases         []map[string]any `yaml:"cases"`
	Orders        []map[string]any `yaml:"orders"`
	Tasks         []map[string]any `yaml:"tasks"`
	Appointments  []map[string]any `yaml:"appointments"`
	Consultations []map[string]any `yaml:"consultations"`
	Payments      []map[string]any `yaml:"payments"`
	Chat          []map[string]any `yaml:"chat"`
}

// Fixtures serves records from a yaml document. Text fields may be given as
// a map keyed by locale code; the requested locale is picked, then fallback.
type Fixtures struct {
	data     fixtureFile
	fallback string
	now      func() time.Time

	mu   sync.Mutex
	sent map[string][]ChatMessage
}

var _ API = new(Fixtures)

// NewFixtures parses a fixture document.
func NewFixtures(content []byte, fallback string) (*Fixtures, error) {
	f := &Fixtures{fallback: fallback, now: time.Now, sent: make(map[string][]ChatMessage)}
	if err := yaml.Unmarshal(content, &f.data); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

// LoadFixtures reads path, or the bundled demo data when path is empty.
func LoadFixtures(path string, fallback string) (*Fixtures, error) {
	var (
		content []byte
		err     error
	)
	if path == "" {
		content, err = embeddedFixtures.ReadFile("fixtures/default.yaml")
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return NewFixtures(content, fallback)
}

func (f *Fixtures) localize(value any, code string) any {
	switch v := value.(type) {
	case map[string]any:
		if text, ok := v[code].(string); ok {
			return text
		}
		if text, ok := v[f.fallback].(string); ok {
			return text
		}
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = f.localize(inner, code)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = f.localize(inner, code)
		}
		return out
	default:
		return v
	}
}

func decodeFixtures[T any](f *Fixtures, entries []map[string]any, code string) ([]T, error) {
	localized := make([]any, len(entries))
	for i, entry := range entries {
		localized[i] = f.localize(map[string]any(entry), code)
	}

	data, err := json.Marshal(localized)
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(entries))
	if err = json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return items, nil
}

func findFixture[T any](items []T, id string, idOf func(T) string) (*T, error) {
	for i := range items {
		if idOf(items[i]) == id {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fixtures) Cases(ctx context.Context, req Request) ([]Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Case](f, f.data.Cases, req.Locale)
}

func (f *Fixtures) Case(ctx context.Context, req Request, id string) (*Case, error) {
	items, err := f.Cases(ctx, req)
	if err != nil {
		return nil, err
	}
	return findFixture(items, id, func(c Case) string { return c.ID })
}

func (f *Fixtures) Orders(ctx context.Context, req Request) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Order](f, f.data.Orders, req.Locale)
}

func (f *Fixtures) Order(ctx context.Context, req Request, id string) (*Order, error) {
	items, err := f.Orders(ctx, req)
	if err != nil {
		return nil, err
	}
	return findFixture(items, id, func(o Order) string { return o.ID })
}

func (f *Fixtures) Tasks(ctx context.Context, req Request) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Task](f, f.data.Tasks, req.Locale)
}

func (f *Fixtures) Appointments(ctx context.Context, req Request) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Appointment](f, f.data.Appointments, req.Locale)
}

func (f *Fixtures) Consultations(ctx context.Context, req Request) ([]Consultation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Consultation](f, f.data.Consultations, req.Locale)
}

func (f *Fixtures) Payments(ctx context.Context, req Request) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFixtures[Payment](f, f.data.Payments, req.Locale)
}

// ChatMessages returns the scripted conversation followed by whatever the
// user sent during this process lifetime.
func (f *Fixtures) ChatMessages(ctx context.Context, req Request) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := decodeFixtures[ChatMessage](f, f.data.Chat, req.Locale)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append(items, f.sent[req.UserID]...), nil
}

func (f *Fixtures) SendChatMessage(ctx context.Context, req Request, body string) (*ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := ChatMessage{
		ID:         xid.New().String(),
		Author:     req.UserID,
		Body:       body,
		FromClient: true,
		SentAt:     f.now().UTC(),
	}

	f.mu.Lock()
	f.sent[req.UserID] = append(f.sent[req.UserID], msg)
	f.mu.Unlock()

	return &msg, nil
}
