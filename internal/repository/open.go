package repository

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-ap-threeway/internal/config"
	"github.com/pesio-ai/be-ap-threeway/internal/database"
)

// OpenStore builds the claim store selected by cfg. The returned close
// function releases the backend's resources and is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...Option) (ClaimStore, func(), error) {
	discipline, err := ParseDiscipline(cfg.Store.Discipline)
	if err != nil {
		return nil, func() {}, err
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return NewPostgresStore(db, discipline, opts...), db.Close, nil
	case config.BackendCSV, "":
		return NewCSVStore(cfg.Store.CSVPath, discipline, opts...), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
