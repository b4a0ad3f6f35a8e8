package telemetry

import (
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	// DBSystem is reported as db.system on every span (postgres, sqlite).
	DBSystem string
	// LogFullSQL keeps query parameters in span statements.
	LogFullSQL bool
}

// RegisterDBTracing installs the otelgorm plugin so every record store
// query becomes a span of the calling request.
func RegisterDBTracing(db *gorm.DB, provider trace.TracerProvider, cfg DBTracingConfig) error {
	opts := []otelgorm.Option{
		otelgorm.WithTracerProvider(provider),
		otelgorm.WithDBName(cfg.DBSystem),
	}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}
	return nil
}
