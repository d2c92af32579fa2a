// Package health serves the liveness and readiness endpoints of the
// detection service.
//
// GET /healthz answers 200 as long as the process serves HTTP. GET /readyz
// runs every [Checker] and answers 503 only when a required one fails. The
// service can run an interview without a microphone or without some vision
// models, so those checks are [Optional]: their failure turns the status to
// "degraded" and keeps the service ready.
//
// Both endpoints return a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vigil/internal/resilience"
)

// checkTimeout bounds each checker. A worker stuck mid-restart must not hang
// the orchestrator's readiness requests.
const checkTimeout = 5 * time.Second

// Checker is one named readiness condition.
type Checker struct {
	// Name keys the result in [Report.Checks], e.g. "audio".
	Name string

	// Check returns nil when the condition holds. It must return once ctx is
	// done.
	Check func(ctx context.Context) error

	// Optional marks a capability the service can serve without.
	Optional bool
}

// Optional returns c marked as optional.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

func condition(name string, holds func() bool, failure string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !holds() {
			return errors.New(failure)
		}
		return nil
	}}
}

// Ready fails with "draining" once ready returns false.
func Ready(name string, ready func() bool) Checker {
	return condition(name, ready, "draining")
}

// Running fails with "not running" while running returns false, e.g. after
// the audio worker stopped.
func Running(name string, running func() bool) Checker {
	return condition(name, running, "not running")
}

// Configured fails with "not configured" if a capability was not set up at
// startup.
func Configured(name string, configured bool) Checker {
	return condition(name, func() bool { return configured }, "not configured")
}

// BreakersClosed fails while any of the breakers is open and names each open
// breaker with the time left until it retries. A half-open breaker passes:
// it is already letting trial calls through.
func BreakersClosed(name string, breakers ...*resilience.CircuitBreaker) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var open []string
		for _, b := range breakers {
			if st := b.Status(); st.State == resilience.StateOpen {
				open = append(open, fmt.Sprintf("%s (retry in %s)", st.Name, st.RetryIn.Round(time.Second)))
			}
		}
		if len(open) > 0 {
			return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
		}
		return nil
	}}
}

// Report is the JSON body of both endpoints. Status is "ok", "degraded" or
// "fail"; each check reads "ok" or its status followed by the error.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type level int

const (
	levelOK level = iota
	levelDegraded
	levelFail
)

var levelNames = [...]string{"ok", "degraded", "fail"}

func (l level) String() string { return levelNames[l] }

// Handler serves /healthz and /readyz over a fixed set of checkers. It logs
// whenever the readiness status changes between requests.
type Handler struct {
	checkers []Checker

	mu   sync.Mutex
	last string
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Evaluate runs all checkers concurrently, each bounded by [checkTimeout]
// and by ctx, and combines their results. The status is the worst result:
// a failing required checker fails the report, a failing optional one
// degrades it.
func (h *Handler) Evaluate(ctx context.Context) Report {
	levels := make([]level, len(h.checkers))
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if errs[i] = c.Check(cctx); errs[i] != nil {
				levels[i] = levelFail
				if c.Optional {
					levels[i] = levelDegraded
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Checks: make(map[string]string, len(h.checkers))}
	worst := levelOK
	for i, c := range h.checkers {
		worst = max(worst, levels[i])
		if errs[i] == nil {
			rep.Checks[c.Name] = levelOK.String()
			continue
		}
		rep.Checks[c.Name] = levels[i].String() + ": " + errs[i].Error()
	}
	rep.Status = worst.String()
	return rep
}

// Healthz answers 200 regardless of the checkers.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: levelOK.String()})
}

// Readyz answers the [Handler.Evaluate] report, with 503 when it failed.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	h.noteStatus(rep)

	status := http.StatusOK
	if rep.Status == levelFail.String() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (h *Handler) noteStatus(rep Report) {
	h.mu.Lock()
	prev := h.last
	h.last = rep.Status
	h.mu.Unlock()

	if prev == "" || prev == rep.Status {
		return
	}
	log := slog.Info
	if rep.Status != levelOK.String() {
		log = slog.Warn
	}
	log("readiness changed", "from", prev, "to", rep.Status, "checks", rep.Checks)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
