package repository

import (
	"context"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/domain/outbox"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	pg "github.com/NordCoder/Deliverus/internal/repository/postgres"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Bundle is the set of storage ports one process works with.
type Bundle struct {
	Records  notification.RecordRepo
	Tracking notification.TrackingRepo
	Stats    notification.StatsRepo
	Outbox   outbox.Repository
	Tx       notification.Transactor
	Health   obs.HealthFunc

	close func()
}

func (b *Bundle) Close() {
	if b.close != nil {
		b.close()
	}
}

func Open(ctx context.Context, driver string, cfg pg.Config, log *zap.Logger) (*Bundle, error) {
	switch driver {
	case DriverMemory:
		s := memory.NewStore()
		return &Bundle{
			Records:  s.Records(),
			Tracking: s.Tracking(),
			Stats:    s.Stats(),
			Outbox:   s.Outbox(),
			Tx:       s.Transactor(),
		}, nil
	case DriverPostgres, "":
		db, err := pg.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		return &Bundle{
			Records:  pg.NewRecordRepo(db),
			Tracking: pg.NewTrackingRepo(db),
			Stats:    pg.NewStatsRepo(db),
			Outbox:   pg.NewOutboxRepo(db),
			Tx:       pg.NewTransactor(db, log),
			Health:   db.Ping,
			close:    db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
