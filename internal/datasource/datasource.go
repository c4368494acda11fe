// Package datasource retrieves sortie metadata and telemetry from the
// backends a replay can be fed from: the HTTP telemetry API, a SQL store or a
// directory of ACMI recordings.
package datasource

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/flight-replay/internal/config"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

// Source lists sorties and returns the raw telemetry of one of them, in the
// order it was recorded. Errors are *core.DataSourceError unless the context
// ended first; unknown ids match core.ErrSortieNotFound.
type Source interface {
	ListSorties(ctx context.Context) ([]model.SortieMeta, error)
	Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error)
}

// Open builds the source selected by cfg. The returned close function
// releases any resources held by the source.
func Open(ctx context.Context, cfg config.Config, log logging.Logger) (Source, func() error, error) {
	if log == nil {
		log = logging.Noop()
	}
	noop := func() error { return nil }

	switch cfg.Source {
	case config.SourceHTTP:
		return NewHTTPSource(cfg.DataURL, WithHTTPLogger(log)), noop, nil
	case config.SourceACMI:
		return NewACMIDir(cfg.ACMIDir, log), noop, nil
	case config.SourceSQLite:
		store, err := OpenSQLite(ctx, cfg.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.SourcePostgres:
		store, err := OpenPostgres(ctx, cfg.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}
