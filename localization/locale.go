package localization

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/language"
)

var (
	ErrNoLocales           = errors.New("at least one supported locale is required")
	ErrDefaultNotSupported = errors.New("default locale is not in the supported set")
	ErrInvalidLocaleCode   = errors.New("invalid locale code")
	ErrDuplicateLocaleCode = errors.New("duplicate locale code")
)

// Direction is the text direction a locale is written in.
type Direction string

const (
	LeftToRight Direction = "ltr"
	RightToLeft Direction = "rtl"
)

// rtlBases lists base languages written right to left.
var rtlBases = map[string]struct{}{ //nolint:gochecknoglobals // fixed lookup table
	"ar": {}, "fa": {}, "he": {}, "ur": {}, "ckb": {}, "ps": {}, "yi": {}, "dv": {}, "sd": {},
}

// DirectionOf maps a locale code to its canonical direction.
func DirectionOf(code string) Direction {
	tag, err := language.Parse(code)
	if err != nil {
		return LeftToRight
	}
	base, _ := tag.Base()
	if _, ok := rtlBases[base.String()]; ok {
		return RightToLeft
	}
	return LeftToRight
}

// Locale is a supported language code and its direction.
type Locale struct {
	Code      string    `json:"code"`
	Direction Direction `json:"dir"`
	tag       language.Tag
}

func (l Locale) IsZero() bool {
	return l.Code == ""
}

func (l Locale) Tag() language.Tag {
	return l.tag
}

func (l Locale) String() string {
	return l.Code
}

// Registry holds the fixed set of supported locales.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	defaultLocale Locale
	locales       map[string]Locale
	order         []string
	matchOrder    []string
	matcher       language.Matcher
}

// NewRegistry validates the supported codes and the default.
func NewRegistry(defaultCode string, codes ...string) (*Registry, error) {
	if len(codes) == 0 {
		return nil, ErrNoLocales
	}

	r := &Registry{locales: make(map[string]Locale, len(codes))}

	for _, raw := range codes {
		code := normalize(raw)
		tag, err := language.Parse(code)
		if err != nil || code == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLocaleCode, raw)
		}
		if _, dup := r.locales[code]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLocaleCode, code)
		}

		r.locales[code] = Locale{Code: code, Direction: DirectionOf(code), tag: tag}
		r.order = append(r.order, code)
	}

	def, ok := r.locales[normalize(defaultCode)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefaultNotSupported, defaultCode)
	}
	r.defaultLocale = def

	// The matcher falls back to its first tag, so the default leads.
	r.matchOrder = append([]string{def.Code}, slices.DeleteFunc(slices.Clone(r.order), func(c string) bool {
		return c == def.Code
	})...)
	tags := make([]language.Tag, 0, len(r.matchOrder))
	for _, code := range r.matchOrder {
		tags = append(tags, r.locales[code].tag)
	}
	r.matcher = language.NewMatcher(tags)

	return r, nil
}

// MustNewRegistry is NewRegistry for static setups, it panics on error.
func MustNewRegistry(defaultCode string, codes ...string) *Registry {
	r, err := NewRegistry(defaultCode, codes...)
	if err != nil {
		panic(err)
	}
	return r
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Default is the hard fallback locale.
func (r *Registry) Default() Locale {
	return r.defaultLocale
}

// Lookup returns the locale for an exact supported code.
// Matching is case-sensitive: "AR" in a url is not "ar".
func (r *Registry) Lookup(code string) (Locale, bool) {
	l, ok := r.locales[code]
	return l, ok
}

// IsSupported reports whether code is one of the supported codes.
func (r *Registry) IsSupported(code string) bool {
	_, ok := r.locales[code]
	return ok
}

// Codes returns the supported codes in configuration order.
func (r *Registry) Codes() []string {
	return slices.Clone(r.order)
}

// Negotiate picks the best supported locale for the given Accept-Language values.
// The boolean is false when nothing in the header matched with any confidence.
func (r *Registry) Negotiate(acceptLanguage ...string) (Locale, bool) {
	var tags []language.Tag
	for _, header := range acceptLanguage {
		parsed, _, err := language.ParseAcceptLanguage(header)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return r.defaultLocale, false
	}

	_, idx, confidence := r.matcher.Match(tags...)
	if confidence == language.No {
		return r.defaultLocale, false
	}

	return r.locales[r.matchOrder[idx]], true
}
