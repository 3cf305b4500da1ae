package localization

import "context"

type contextKey string

func (c contextKey) String() string {
	return "portal/localization/" + string(c)
}

const ctxKeyLocale = contextKey("localeKey")

// ToContext adds the resolved locale to the supplied context.
func ToContext(ctx context.Context, locale Locale) context.Context {
	return context.WithValue(ctx, ctxKeyLocale, locale)
}

// FromContext extracts the resolved locale, ok is false when none was resolved.
func FromContext(ctx context.Context) (Locale, bool) {
	locale, ok := ctx.Value(ctxKeyLocale).(Locale)
	return locale, ok
}
