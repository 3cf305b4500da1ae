package pages

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/ratelimiter"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/visitor"
)

// leave unmounts whatever data view the visitor had open.
func leave(r *http.Request) {
	if scope, ok := visitor.FromContext(r.Context()); ok {
		scope.Unmount(contentSlot)
	}
}

func (s *Site) notFound(w http.ResponseWriter, r *http.Request) {
	leave(r)
	sh := s.shell(r)
	s.render(w, r, http.StatusNotFound, "notfound", page{Shell: sh, Title: sh.T("NotFoundTitle")})
}

// NotFound renders the localized not-found page.
func (s *Site) NotFound() http.Handler {
	return http.HandlerFunc(s.notFound)
}

func (s *Site) signedIn(r *http.Request) bool {
	snapshot, ok := session.FromContext(r.Context())
	return ok && snapshot.Authenticated()
}

func (s *Site) loginForm(w http.ResponseWriter, r *http.Request, status int, email, next, problem string) {
	sh := s.shell(r)
	s.render(w, r, status, "login", page{
		Shell: sh,
		Title: sh.T("LoginTitle"),
		Error: problem,
		Form:  map[string]string{"email": email, "next": next},
	})
}

// Login shows the sign in form and checks submitted credentials. Submissions
// are throttled per caller when a limiter is configured.
func (s *Site) Login() http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leave(r)
		home := s.shell(r).Href("")
		next := r.FormValue(routing.NextParam)

		if s.signedIn(r) {
			http.Redirect(w, r, routing.SafeNext(next, home), http.StatusFound)
			return
		}

		if r.Method != http.MethodPost {
			s.loginForm(w, r, http.StatusOK, "", next, "")
			return
		}

		s.submitLogin(w, r, next, home)
	})

	rejected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh := s.shell(r)
		s.loginForm(w, r, 0, r.PostFormValue("email"), r.PostFormValue(routing.NextParam), sh.T("TooManyAttempts"))
	})

	return ratelimiter.RateLimitMiddleware(s.loginLimiter,
		ratelimiter.WithMethods(http.MethodPost),
		ratelimiter.WithRejectHandler(rejected),
	)(handler)
}

func (s *Site) submitLogin(w http.ResponseWriter, r *http.Request, next, home string) {
	ctx := r.Context()
	sh := s.shell(r)
	email := strings.TrimSpace(r.PostFormValue("email"))

	if s.directory == nil || s.issuer == nil {
		s.loginForm(w, r, http.StatusServiceUnavailable, email, next, sh.T("LoginFailed"))
		return
	}

	user, err := s.directory.Authenticate(ctx, email, r.PostFormValue("password"))
	if err != nil {
		if !errors.Is(err, session.ErrInvalidCredentials) {
			util.Log(ctx).WithError(err).Error("could not check credentials")
		}
		s.loginForm(w, r, http.StatusUnauthorized, email, next, sh.T("LoginFailed"))
		return
	}

	token, expires, err := s.issuer.Issue(user)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not issue session token")
		s.loginForm(w, r, http.StatusInternalServerError, email, next, sh.T("LoginFailed"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	util.Log(ctx).WithField("user", user.ID).Info("user signed in")
	http.Redirect(w, r, routing.SafeNext(next, home), http.StatusSeeOther)
}

// Logout ends the session and returns to the sign in page.
func (s *Site) Logout() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		leave(r)

		if token := session.TokenFromRequest(r, s.sessionCookie); token != "" && s.sessions != nil {
			s.sessions.Forget(ctx, token)
		}

		http.SetCookie(w, &http.Cookie{
			Name:     s.sessionCookie,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, s.shell(r).Href("/login"), http.StatusSeeOther)
	})
}

// ForgotPassword accepts an email and always answers with the same
// confirmation, whether or not an account exists.
func (s *Site) ForgotPassword() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leave(r)
		sh := s.shell(r)
		sent := r.Method == http.MethodPost
		if sent {
			util.Log(r.Context()).Debug("password recovery requested")
		}
		s.render(w, r, http.StatusOK, "forgot", page{Shell: sh, Title: sh.T("ForgotTitle"), Data: sent})
	})
}
