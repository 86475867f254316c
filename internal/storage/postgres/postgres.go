package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

type Postgres struct {
	Db  *sql.DB
	dsn string
}

// New opens and pings the database. The dsn is kept for Listen, which needs
// its own connection.
func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{Db: db, dsn: dsn}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.Db.Close()
}

// Listen delivers NOTIFY payloads on channel to fn until ctx is done. A
// reconnect is reported with an empty payload so callers can resync.
func (s *Postgres) Listen(ctx context.Context, channel string, fn func(payload string)) error {
	log := slog.Default().With("component", "postgres.listen", "channel", channel)
	l := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := l.Listen(channel); err != nil {
		l.Close()
		return fmt.Errorf("postgres: listen %q: %w", channel, err)
	}

	go func() {
		defer l.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-l.Notify:
				if n == nil {
					fn("")
					continue
				}
				fn(n.Extra)
			case <-time.After(90 * time.Second):
				go l.Ping()
			}
		}
	}()
	return nil
}
