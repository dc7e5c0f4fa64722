package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/mediapipe/api/responses"
	"github.com/angelmondragon/mediapipe/pkg/config"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
	"github.com/angelmondragon/mediapipe/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// Pinger is a dependency readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

const envHeader = "X-Mediapipe-Env"

// Healthz reports liveness.
func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// Readyz pings every dependency and answers 503 when any fails.
func Readyz(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name, dep := range deps {
		if dep != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(names))
		var failed error
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				checks[name] = err.Error()
				if failed == nil {
					failed = err
				}
				continue
			}
			checks[name] = "ok"
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeTransient, failed, "dependency not ready").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
