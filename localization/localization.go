package localization

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pitabwire/util"
)

//go:embed translations/*.toml
var embeddedTranslations embed.FS

// Manager translates message ids for a locale code.
type Manager interface {
	Bundle() *i18n.Bundle
	Translate(ctx context.Context, code string, messageID string) string
	TranslateWithMap(ctx context.Context, code string, messageID string, variables map[string]any) string
	TranslateWithMapAndCount(
		ctx context.Context,
		code string,
		messageID string,
		variables map[string]any,
		count int,
	) string
}

type managerImpl struct {
	bundle   *i18n.Bundle
	fallback string
}

// NewManager loads the embedded message files for every supported locale.
func NewManager(registry *Registry) (Manager, error) {
	return NewManagerFromFS(registry, embeddedTranslations, "translations")
}

// NewManagerFromFS loads messages.<code>.toml for every supported locale from dir in fsys.
func NewManagerFromFS(registry *Registry, fsys fs.FS, dir string) (Manager, error) {
	bundle := i18n.NewBundle(registry.Default().Tag())
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, code := range registry.Codes() {
		path := fmt.Sprintf("%s/messages.%s.toml", dir, code)
		if _, err := bundle.LoadMessageFileFS(fsys, path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load translations for %s: %w", code, err)
		}
	}

	return &managerImpl{bundle: bundle, fallback: registry.Default().Code}, nil
}

// Bundle Access the translation bundle instantiated in the system.
func (s *managerImpl) Bundle() *i18n.Bundle {
	return s.bundle
}

// Translate performs a quick translation based on the supplied message id.
func (s *managerImpl) Translate(ctx context.Context, code string, messageID string) string {
	return s.TranslateWithMap(ctx, code, messageID, nil)
}

// TranslateWithMap performs a translation with variables based on the supplied message id.
func (s *managerImpl) TranslateWithMap(
	ctx context.Context,
	code string,
	messageID string,
	variables map[string]any,
) string {
	return s.TranslateWithMapAndCount(ctx, code, messageID, variables, 0)
}

// TranslateWithMapAndCount performs a translation with variables and pluralizes when count is positive.
// Missing messages degrade to the message id.
func (s *managerImpl) TranslateWithMapAndCount(
	ctx context.Context,
	code string,
	messageID string,
	variables map[string]any,
	count int,
) string {
	localizer := i18n.NewLocalizer(s.bundle, code, s.fallback)

	cfg := &i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: variables,
	}
	if count > 0 {
		cfg.PluralCount = count
	}

	translated, err := localizer.Localize(cfg)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("messageID", messageID).
			WithField("locale", code).
			Warn("could not perform translation")
		if translated == "" {
			return messageID
		}
	}

	return translated
}
