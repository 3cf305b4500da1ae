package pages

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/visitor"
)

const maxLocaleBody = 1 << 10

// LocaleState is the body of the locale api.
type LocaleState struct {
	Code      string                 `json:"code"`
	Direction localization.Direction `json:"dir"`
	Changed   bool                   `json:"changed,omitempty"`
	Supported []string               `json:"supported,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Log(r.Context()).WithError(err).Warn("could not write response")
	}
}

// LocaleAPI reports the visitor's locale on GET and switches it on PUT
// through the same transition a localized navigation takes.
func (s *Site) LocaleAPI() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		scope := visitor.MustFromContext(ctx)

		if r.Method != http.MethodPut {
			current, ok := scope.Locale()
			if !ok {
				current, _ = localization.FromContext(ctx)
			}
			writeJSON(w, r, http.StatusOK, LocaleState{
				Code:      current.Code,
				Direction: current.Direction,
				Supported: s.registry.Codes(),
			})
			return
		}

		var body LocaleState
		if err := json.NewDecoder(io.LimitReader(r.Body, maxLocaleBody)).Decode(&body); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiError{Error: "body must be a json object with a code", Code: "invalid_body"})
			return
		}

		locale, ok := s.registry.Lookup(body.Code)
		if !ok {
			writeJSON(w, r, http.StatusUnprocessableEntity, apiError{Error: "locale is not supported", Code: "unsupported_locale"})
			return
		}

		changed := s.gate.Enter(ctx, scope, locale)
		w.Header().Set("Content-Language", locale.Code)
		writeJSON(w, r, http.StatusOK, LocaleState{Code: locale.Code, Direction: locale.Direction, Changed: changed})
	})
}

// APINotFound answers unknown api paths in json.
func (s *Site) APINotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusNotFound, apiError{Error: "unknown endpoint", Code: "not_found"})
	})
}
