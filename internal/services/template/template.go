package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
)

type Service struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// Resolve returns the newest active version for the given template name.
func (s *Service) Resolve(ctx context.Context, name string) (*notify.Template, error) {
	t, err := s.store.GetTemplate(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Render substitutes payload values into the template's title and body.
func (s *Service) Render(t *notify.Template, payload map[string]string) (title, body string) {
	return renderText(t.Title, payload), renderText(t.Body, payload)
}

// Create validates and stores a new template version.
func (s *Service) Create(ctx context.Context, t *notify.Template) (int64, error) {
	if err := validate(t); err != nil {
		return 0, err
	}
	id, err := s.store.InsertTemplate(ctx, t)
	if err != nil {
		return 0, err
	}
	s.log.Info("template created",
		logx.String("name", t.Name),
		logx.Int("version", t.Version),
		logx.Int64("id", id))
	return id, nil
}

func (s *Service) List(ctx context.Context) ([]*notify.Template, error) {
	return s.store.ListTemplates(ctx)
}

func validate(t *notify.Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: title and body are required", ErrInvalidTemplate)
	}
	switch t.Priority {
	case notify.PriorityCritical, notify.PriorityHigh, notify.PriorityNormal, notify.PriorityLow:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTemplate, t.Priority)
	}
	switch t.Category {
	case notify.CategorySystem, notify.CategoryGame, notify.CategoryRiskAlert,
		notify.CategorySocial, notify.CategoryTransaction, notify.CategoryEmergency:
	default:
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTemplate, t.Category)
	}
	for _, c := range t.Channels {
		if !c.Known() {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidTemplate, c)
		}
	}
	return nil
}

// renderText does one replacement pass over the template text.
// strings.Replacer never rescans replaced output, which is exactly the
// no-recursive-expansion contract.
func renderText(text string, payload map[string]string) string {
	if len(payload) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	pairs := make([]string, 0, len(payload)*2)
	for k, v := range payload {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
