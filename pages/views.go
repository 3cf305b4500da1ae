package pages

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/backend"
	"github.com/pitabwire/portal/broadcast"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/visitor"
)

// View is a page backed by backend data that must follow the visitor's locale.
type View[T any] struct {
	Name     string
	Template string
	TitleID  string
	Load     func(ctx context.Context, api backend.API, req backend.Request, id string) (T, error)
}

func memoKey(scope *visitor.Scope, view string, req backend.Request, id string) string {
	return strings.Join([]string{scope.ID(), req.UserID, view, req.Locale, id}, ":")
}

func (s *Site) backendRequest(r *http.Request, locale string) backend.Request {
	req := backend.Request{Locale: locale}
	if snapshot, ok := session.FromContext(r.Context()); ok {
		req.Token = snapshot.Token
	}
	if user := session.UserFromContext(r.Context()); user != nil {
		req.UserID = user.ID
	}
	return req
}

// load serves view data from the memo when a refetch already produced it.
func load[T any](ctx context.Context, s *Site, scope *visitor.Scope, view View[T], req backend.Request, id string) (T, error) {
	var memo *cache.GenericCache[string, T]
	key := memoKey(scope, view.Name, req, id)

	if s.memo != nil {
		memo = cache.NewGenericCache[string, T](s.memo, cache.Prefixed("view"))
		if data, found, err := memo.Get(ctx, key); err == nil && found {
			return data, nil
		}
	}

	data, err := view.Load(ctx, s.api, req, id)
	if err != nil {
		return data, err
	}

	if memo != nil {
		if setErr := memo.Set(ctx, key, data, s.viewTTL); setErr != nil {
			util.Log(ctx).WithError(setErr).WithField("view", view.Name).Warn("could not keep view data")
		}
	}
	return data, nil
}

// forget drops memoised data so the next render loads afresh.
func forget[T any](ctx context.Context, s *Site, scope *visitor.Scope, view View[T], req backend.Request, id string) {
	if s.memo == nil {
		return
	}
	memo := cache.NewGenericCache[string, T](s.memo, cache.Prefixed("view"))
	if err := memo.Delete(ctx, memoKey(scope, view.Name, req, id)); err != nil {
		util.Log(ctx).WithError(err).WithField("view", view.Name).Warn("could not drop view data")
	}
}

// mount puts a refetch for view in the visitor's content slot. The refetch
// loads the same record again in whatever locale is active when it runs.
func mount[T any](s *Site, scope *visitor.Scope, view View[T], req backend.Request, id string) {
	scope.Mount(contentSlot, broadcast.NewCallback(view.Name, func(ctx context.Context) error {
		locale, ok := scope.Locale()
		if !ok {
			return nil
		}
		next := req
		next.Locale = locale.Code
		_, err := load(ctx, s, scope, view, next, id)
		return err
	}))
}

// show renders a view for the current request and keeps it mounted until
// the visitor moves to another page. A view that failed to load is not
// mounted.
func show[T any](s *Site, view View[T]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		scope := visitor.MustFromContext(ctx)
		sh := s.shell(r)
		id := mux.Vars(r)["id"]

		req := s.backendRequest(r, sh.Code)

		data, err := load(ctx, s, scope, view, req, id)
		if err != nil {
			leave(r)
			if errors.Is(err, backend.ErrNotFound) {
				s.notFound(w, r)
				return
			}
			util.Log(ctx).WithError(err).WithField("view", view.Name).Error("could not load view")
			s.render(w, r, http.StatusBadGateway, "failed", page{
				Shell: sh,
				Title: sh.T(view.TitleID),
				Error: sh.T("LoadFailed"),
			})
			return
		}

		mount(s, scope, view, req, id)
		s.render(w, r, http.StatusOK, view.Template, page{Shell: sh, Title: sh.T(view.TitleID), Data: data})
	})
}

// Summary is what the home page shows.
type Summary struct {
	Cases        []backend.Case        `json:"cases"`
	Tasks        []backend.Task        `json:"tasks"`
	Appointments []backend.Appointment `json:"appointments"`
}

var homeView = View[Summary]{
	Name: "home", Template: "home", TitleID: "NavHome",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) (Summary, error) {
		var (
			summary Summary
			err     error
		)
		if summary.Cases, err = api.Cases(ctx, req); err != nil {
			return summary, err
		}
		if summary.Tasks, err = api.Tasks(ctx, req); err != nil {
			return summary, err
		}
		summary.Appointments, err = api.Appointments(ctx, req)
		return summary, err
	},
}

var casesView = View[[]backend.Case]{
	Name: "cases", Template: "cases", TitleID: "NavCases",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Case, error) {
		return api.Cases(ctx, req)
	},
}

var caseView = View[*backend.Case]{
	Name: "case", Template: "case", TitleID: "NavCases",
	Load: func(ctx context.Context, api backend.API, req backend.Request, id string) (*backend.Case, error) {
		return api.Case(ctx, req, id)
	},
}

var ordersView = View[[]backend.Order]{
	Name: "orders", Template: "orders", TitleID: "NavOrders",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Order, error) {
		return api.Orders(ctx, req)
	},
}

var orderView = View[*backend.Order]{
	Name: "order", Template: "order", TitleID: "NavOrders",
	Load: func(ctx context.Context, api backend.API, req backend.Request, id string) (*backend.Order, error) {
		return api.Order(ctx, req, id)
	},
}

var tasksView = View[[]backend.Task]{
	Name: "tasks", Template: "tasks", TitleID: "NavTasks",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Task, error) {
		return api.Tasks(ctx, req)
	},
}

var appointmentsView = View[[]backend.Appointment]{
	Name: "appointments", Template: "appointments", TitleID: "NavAppointments",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Appointment, error) {
		return api.Appointments(ctx, req)
	},
}

var consultationsView = View[[]backend.Consultation]{
	Name: "consultations", Template: "consultations", TitleID: "NavConsultations",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Consultation, error) {
		return api.Consultations(ctx, req)
	},
}

var paymentsView = View[[]backend.Payment]{
	Name: "payments", Template: "payments", TitleID: "NavPayments",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.Payment, error) {
		return api.Payments(ctx, req)
	},
}

var chatView = View[[]backend.ChatMessage]{
	Name: "chat", Template: "chat", TitleID: "NavChat",
	Load: func(ctx context.Context, api backend.API, req backend.Request, _ string) ([]backend.ChatMessage, error) {
		return api.ChatMessages(ctx, req)
	},
}

func (s *Site) Home() http.Handler          { return show(s, homeView) }
func (s *Site) Cases() http.Handler         { return show(s, casesView) }
func (s *Site) Case() http.Handler          { return show(s, caseView) }
func (s *Site) Orders() http.Handler        { return show(s, ordersView) }
func (s *Site) Order() http.Handler         { return show(s, orderView) }
func (s *Site) Tasks() http.Handler         { return show(s, tasksView) }
func (s *Site) Appointments() http.Handler  { return show(s, appointmentsView) }
func (s *Site) Consultations() http.Handler { return show(s, consultationsView) }
func (s *Site) Payments() http.Handler      { return show(s, paymentsView) }
func (s *Site) Chat() http.Handler          { return show(s, chatView) }

// SendChat posts the form body as a chat message and returns to the chat.
func (s *Site) SendChat() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		scope := visitor.MustFromContext(ctx)
		sh := s.shell(r)
		back := sh.Href("/chat")

		body := strings.TrimSpace(r.PostFormValue("body"))
		if body == "" {
			http.Redirect(w, r, back, http.StatusSeeOther)
			return
		}

		req := s.backendRequest(r, sh.Code)
		if _, err := s.api.SendChatMessage(ctx, req, body); err != nil {
			util.Log(ctx).WithError(err).Error("could not send chat message")
			s.render(w, r, http.StatusBadGateway, "failed", page{Shell: sh, Title: sh.T("NavChat"), Error: sh.T("LoadFailed")})
			return
		}

		forget(ctx, s, scope, chatView, req, "")
		http.Redirect(w, r, back, http.StatusSeeOther)
	})
}
