package pages

import (
	"net/http"

	"github.com/pitabwire/portal/routing"
)

// Tree is the route table of the portal. endpoints are served outside the
// locale gate.
func (s *Site) Tree(guard *routing.Guard, endpoints ...routing.Route) *routing.Tree {
	get := []string{http.MethodGet}
	getPost := []string{http.MethodGet, http.MethodPost}
	record := "{id:" + routing.IDPattern + "}"

	return &routing.Tree{
		Locales:   s.registry,
		Gate:      s.gate,
		Guard:     guard,
		Endpoints: endpoints,
		Assets:    Assets(),
		Subtrees: []routing.Subtree{
			{
				Name:   "api",
				Prefix: "/api/v1",
				Routes: []routing.Route{
					{Name: "api.locale", Path: "/locale", Methods: []string{http.MethodGet, http.MethodPut}, Handler: s.LocaleAPI()},
				},
				NotFound: s.APINotFound(),
			},
			{
				Name:   "public",
				Prefix: "/{" + routing.LocaleVar + "}",
				Layout: s.Layout,
				Routes: []routing.Route{
					{Name: "login", Path: "/login", Methods: getPost, Handler: s.Login()},
					{Name: "logout", Path: "/logout", Methods: []string{http.MethodPost}, Handler: s.Logout()},
					{Name: "forgot-password", Path: "/forgot-password", Methods: getPost, Handler: s.ForgotPassword()},
				},
				NotFound: s.NotFound(),
			},
			{
				Name:    "portal",
				Prefix:  "/{" + routing.LocaleVar + "}",
				Guarded: true,
				Layout:  s.Layout,
				Routes: []routing.Route{
					{Name: "home", Methods: get, Handler: s.Home()},
					{Name: "cases", Path: "/cases", Methods: get, Handler: s.Cases()},
					{Name: "case", Path: "/cases/" + record, Methods: get, Handler: s.Case()},
					{Name: "orders", Path: "/orders", Methods: get, Handler: s.Orders()},
					{Name: "order", Path: "/orders/" + record, Methods: get, Handler: s.Order()},
					{Name: "tasks", Path: "/tasks", Methods: get, Handler: s.Tasks()},
					{Name: "appointments", Path: "/appointments", Methods: get, Handler: s.Appointments()},
					{Name: "consultations", Path: "/consultations", Methods: get, Handler: s.Consultations()},
					{Name: "payments", Path: "/payments", Methods: get, Handler: s.Payments()},
					{Name: "chat", Path: "/chat", Methods: get, Handler: s.Chat()},
					{Name: "chat.send", Path: "/chat", Methods: []string{http.MethodPost}, Handler: s.SendChat()},
				},
				NotFound: s.NotFound(),
			},
		},
	}
}
