package runner

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uber-go/tally/v4"
	tallyprom "github.com/uber-go/tally/v4/prometheus"
)

const (
	scopePrefix = "psdmads_coordinator"
	// ScopeInterval is the default reporting period of NewScope.
	ScopeInterval = time.Second
)

// NewScope returns a tally root scope whose coordinator metrics are exported
// through reg, and the closer that stops it after a last report. One scope
// serves every run sharing reg; reporters must not be created twice for the
// same registry.
func NewScope(reg prometheus.Registerer, interval time.Duration, logger *slog.Logger) (tally.Scope, io.Closer) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = ScopeInterval
	}
	reporter := tallyprom.NewReporter(tallyprom.Options{
		Registerer: reg,
		OnRegisterError: func(err error) {
			logger.Warn("Failed to register coordinator metric", "error", err)
		},
	})
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:         scopePrefix,
		Tags:           map[string]string{},
		CachedReporter: reporter,
		Separator:      tallyprom.DefaultSeparator,
	}, interval)
}
