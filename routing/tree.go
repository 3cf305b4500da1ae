package routing

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/xid"

	"github.com/pitabwire/portal/localization"
)

// IDPattern matches the record identifiers used in path templates.
const IDPattern = "[0-9a-v]{20}"

var (
	ErrNoLocales         = errors.New("route tree has no locale registry")
	ErrNoGate            = errors.New("route tree has no locale gate")
	ErrNoGuard           = errors.New("route tree has a guarded subtree but no guard")
	ErrDefaultLocale     = errors.New("default locale is not in the supported set")
	ErrMissingNotFound   = errors.New("subtree has no not-found handler")
	ErrMissingHandler    = errors.New("route has no handler")
	ErrInvalidTemplate   = errors.New("route template is invalid")
	ErrDuplicateRoute    = errors.New("route method and template are declared twice")
	ErrAmbiguousRoute    = errors.New("route sample path does not match exactly one route")
	ErrPrefixWithoutRoot = errors.New("subtree prefix must start with /")
)

// Layout wraps a page handler with the shell shared by a subtree.
type Layout func(page http.Handler) http.Handler

// Route is one leaf of the tree. Path is relative to its subtree prefix and
// may be empty for the subtree root. Methods empty means any method.
type Route struct {
	Name    string
	Path    string
	Methods []string
	Handler http.Handler
	// Sample overrides the generated path used to check the route is reachable.
	Sample string
}

// Subtree groups routes sharing a prefix, a guard setting, a layout and a
// not-found page.
type Subtree struct {
	Name     string
	Prefix   string
	Guarded  bool
	Layout   Layout
	Routes   []Route
	NotFound http.Handler
}

// Tree is the whole route table of the service.
type Tree struct {
	Locales *localization.Registry
	Gate    *LocaleGate
	Guard   *Guard

	// Endpoints are served as they are, outside the locale gate.
	Endpoints []Route
	// Assets serves static files below /assets/.
	Assets   http.Handler
	Subtrees []Subtree
}

type leaf struct {
	subtree  string
	route    Route
	template string
}

func joinPath(prefix, path string) string {
	if path == "" {
		return prefix
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(path, "/")
}

func (t *Tree) leaves() []leaf {
	var out []leaf
	for _, st := range t.Subtrees {
		for _, route := range st.Routes {
			out = append(out, leaf{subtree: st.Name, route: route, template: joinPath(st.Prefix, route.Path)})
		}
	}
	return out
}

// fillTemplate replaces every {name} or {name:pattern} variable of template
// with value(name).
func fillTemplate(template string, value func(name string) string) string {
	var b strings.Builder
	depth, start := 0, 0
	for i, c := range template {
		switch c {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 {
				name, _, _ := strings.Cut(template[start+1:i], ":")
				b.WriteString(value(name))
			}
		default:
			if depth == 0 {
				b.WriteRune(c)
			}
		}
	}
	return b.String()
}

// samplePath fills template variables with plausible values.
func (t *Tree) samplePath(l leaf) string {
	if l.route.Sample != "" {
		return l.route.Sample
	}
	return fillTemplate(l.template, func(name string) string {
		switch name {
		case LocaleVar:
			return t.Locales.Default().Code
		case "id":
			return xid.New().String()
		default:
			return "sample"
		}
	})
}

func sampleMethod(route Route) string {
	if len(route.Methods) == 0 {
		return http.MethodGet
	}
	return route.Methods[0]
}

func matcherFor(l leaf) *mux.Route {
	r := mux.NewRouter().NewRoute().Path(l.template)
	if len(l.route.Methods) > 0 {
		r = r.Methods(l.route.Methods...)
	}
	return r
}

// Validate checks the tree is usable before anything is served.
func (t *Tree) Validate() error {
	if t.Locales == nil {
		return ErrNoLocales
	}
	if t.Gate == nil {
		return ErrNoGate
	}
	if !t.Locales.IsSupported(t.Locales.Default().Code) {
		return fmt.Errorf("%w: %q", ErrDefaultLocale, t.Locales.Default().Code)
	}

	for _, st := range t.Subtrees {
		if !strings.HasPrefix(st.Prefix, "/") {
			return fmt.Errorf("%w: subtree %q", ErrPrefixWithoutRoot, st.Name)
		}
		if st.NotFound == nil {
			return fmt.Errorf("%w: subtree %q", ErrMissingNotFound, st.Name)
		}
		if st.Guarded && t.Guard == nil {
			return fmt.Errorf("%w: subtree %q", ErrNoGuard, st.Name)
		}
	}

	leaves := t.leaves()
	seen := map[string]map[string]string{}
	for _, l := range leaves {
		if l.route.Handler == nil {
			return fmt.Errorf("%w: %s %q", ErrMissingHandler, l.subtree, l.template)
		}
		if err := matcherFor(l).GetError(); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidTemplate, l.template, err)
		}

		methods := seen[l.template]
		if methods == nil {
			methods = map[string]string{}
			seen[l.template] = methods
		}
		declared := l.route.Methods
		if len(declared) == 0 {
			declared = []string{"*"}
		}
		for _, m := range declared {
			m = strings.ToUpper(m)
			_, clash := methods[m]
			_, anyClash := methods["*"]
			if clash || anyClash || (m == "*" && len(methods) > 0) {
				return fmt.Errorf("%w: %s %q", ErrDuplicateRoute, m, l.template)
			}
			methods[m] = l.route.Name
		}
	}

	matchers := make([]*mux.Route, len(leaves))
	for i, l := range leaves {
		matchers[i] = matcherFor(l)
	}
	for _, l := range leaves {
		req := httptest.NewRequest(sampleMethod(l.route), t.samplePath(l), nil)
		count := 0
		for _, m := range matchers {
			if m.Match(req, &mux.RouteMatch{}) {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("%w: %q matched %d routes", ErrAmbiguousRoute, req.URL.Path, count)
		}
	}

	return nil
}

func (t *Tree) chain(st Subtree, page http.Handler) http.Handler {
	h := page
	if st.Layout != nil {
		h = st.Layout(h)
	}
	if st.Guarded {
		h = t.Guard.Wrap(h)
	}
	return t.Gate.Wrap(h)
}

// hasVariable reports whether prefix contains a template variable.
func hasVariable(prefix string) bool {
	return strings.Contains(prefix, "{")
}

// Compile validates the tree and lays it onto a mux router. Endpoints, leaves
// and assets are registered before any subtree catch-all, and catch-alls with
// fixed prefixes before those with variables. When subtrees share a prefix,
// the first one declared owns the catch-all.
func (t *Tree) Compile() (*mux.Router, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	router := mux.NewRouter()

	for _, ep := range t.Endpoints {
		route := router.Path(ep.Path).Handler(ep.Handler)
		if ep.Name != "" {
			route.Name(ep.Name)
		}
		if len(ep.Methods) > 0 {
			route.Methods(ep.Methods...)
		}
	}

	if t.Assets != nil {
		router.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", t.Assets))
	}

	root := "/" + t.Locales.Default().Code
	router.Path("/").Handler(http.RedirectHandler(root, http.StatusFound)).Name("root")

	for _, st := range t.Subtrees {
		for _, route := range st.Routes {
			r := router.Path(joinPath(st.Prefix, route.Path)).Handler(t.chain(st, route.Handler))
			if route.Name != "" {
				r.Name(route.Name)
			}
			if len(route.Methods) > 0 {
				r.Methods(route.Methods...)
			}
		}
	}

	subtrees := slices.Clone(t.Subtrees)
	slices.SortStableFunc(subtrees, func(a, b Subtree) int {
		switch av, bv := hasVariable(a.Prefix), hasVariable(b.Prefix); {
		case av == bv:
			return 0
		case bv:
			return -1
		default:
			return 1
		}
	})

	claimed := map[string]bool{}
	for _, st := range subtrees {
		prefix := strings.TrimRight(st.Prefix, "/") + "/"
		if claimed[prefix] {
			continue
		}
		claimed[prefix] = true
		router.PathPrefix(prefix).Handler(t.chain(st, st.NotFound))
	}

	router.NotFoundHandler = http.RedirectHandler(root, http.StatusFound)

	return router, nil
}
