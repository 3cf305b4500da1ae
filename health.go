package portal

import (
	"io"
	"net/http"
)

// Checker reports nil when the resource it watches is healthy. It must be
// safe to call from multiple goroutines.
type Checker interface {
	CheckHealth() error
}

// CheckerFunc adapts an ordinary function to Checker.
type CheckerFunc func() error

func (f CheckerFunc) CheckHealth() error {
	return f()
}

// AddHealthCheck adds checker to those consulted by the health endpoint.
func (s *Service) AddHealthCheck(checker Checker) {
	s.healthCheckers = append(s.healthCheckers, checker)
}

func (s *Service) HealthCheckers() []Checker {
	return s.healthCheckers
}

// HandleHealth answers 200 when every checker passes, 503 otherwise.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, "ok"
	for _, c := range s.healthCheckers {
		if err := c.CheckHealth(); err != nil {
			s.Log(r.Context()).WithError(err).Warn("health check failed")
			status, body = http.StatusServiceUnavailable, "unhealthy"
			break
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, body)
	}
}
