// Package backend opens the datastore selected by configuration.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/pliu/lounge/internal/config"
	"github.com/pliu/lounge/internal/store"
	"github.com/pliu/lounge/internal/store/badgerstore"
	"github.com/pliu/lounge/internal/store/memstore"
	"github.com/pliu/lounge/internal/store/sqlstore"
)

func Open(driver, dsn string, log *slog.Logger) (store.Store, error) {
	switch driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.New(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s datastore: %w", driver, err)
		}
		return s, nil
	case config.DriverBadger:
		return badgerstore.New(dsn, log)
	default:
		return nil, fmt.Errorf("unknown datastore driver %q", driver)
	}
}
