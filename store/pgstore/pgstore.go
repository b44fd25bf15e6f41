// Package pgstore keeps run summaries in Postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ccabid/metrics"
	"ccabid/store"
	"ccabid/store/pgstore/migrations"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/tern/migrate"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

var _ store.Store = (*Store)(nil)

// sessionSetup runs on every new connection.
var sessionSetup = []string{
	`set timezone = 'UTC'`,
	`set lock_timeout = '5s'`,
	`set statement_timeout = '10s'`,
}

// NewStore connects to connStr and applies pending migrations.
func NewStore(ctx context.Context, connStr string, logger log.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// A run writes one summary at exit; the API reads occasionally.
	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnIdleTime = 5 * time.Minute
	if config.ConnConfig.ConnectTimeout == 0 {
		config.ConnConfig.ConnectTimeout = 5 * time.Second
	}

	config.ConnConfig.Logger = pgxLogger{log.With(logger, "component", "pgx")}
	config.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		for _, q := range sessionSetup {
			if _, err := c.Exec(ctx, q); err != nil {
				return fmt.Errorf("session setup %q: %w", q, err)
			}
		}
		return nil
	}

	level.Debug(logger).Log("msg", "connecting", "host", config.ConnConfig.Host, "db", config.ConnConfig.Database)

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	cc := config.ConnConfig
	collector := newPoolCollector(cc.User, cc.Host, cc.Database, func() stat { return pool.Stat() })
	if err := prometheus.Register(collector); err != nil {
		pool.Close()
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	if err := pool.AcquireFunc(ctx, func(c *pgxpool.Conn) error { return migrateDB(ctx, c.Conn(), logger) }); err != nil {
		prometheus.Unregister(collector)
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func migrateDB(ctx context.Context, conn *pgx.Conn, logger log.Logger) error {
	m, err := migrate.NewMigratorEx(ctx, conn, "public.schema_version", &migrate.MigratorOptions{
		MigratorFS: migrations.FS,
	})
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	level.Debug(logger).Log("msg", "loading migrations", "files", len(migrations.Names()))

	if err := m.LoadMigrations("."); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m.OnStart = func(sequence int32, name, direction, _ string) {
		level.Info(logger).Log("msg", "applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	if err := m.Migrate(ctx); err != nil {
		return err
	}

	version, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	level.Debug(logger).Log("msg", "schema up to date", "version", version)

	return nil
}

// transact runs f in a serializable transaction. Serialization failures are
// retried twice; any other error is returned as is.
func (s *Store) transact(ctx context.Context, f func(pgx.Tx) error) error {
	attempt := func() error {
		begin := time.Now()
		err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			metrics.OpWait("pgstore_begin", time.Since(begin))
			return f(tx)
		})

		var pgerr *pgconn.PgError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &pgerr) && pgerr.Code == "40001":
			level.Debug(s.logger).Log("msg", "serialization failure, retrying", "err", err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 2)
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

//
// runs
//

const insertRunQuery = `
insert into runs
(
	id,
	chain_id,
	auction_address,
	signer,
	reason,
	final_block,
	submitted,
	failed,
	pending,
	error,
	created_at
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertRunBidsQuery = `
insert into run_bids
(
	run_id,
	position,
	owner,
	amount,
	max_price,
	state,
	tx_hash,
	attempts,
	max_retries,
	error
)
select
	$1,
	b.position,
	b.owner,
	b.amount,
	b.max_price,
	b.state,
	b.tx_hash,
	b.attempts,
	b.max_retries,
	b.error
from
	jsonb_to_recordset($2)
	as b(
		position    int,
		owner       text,
		amount      numeric,
		max_price   numeric,
		state       text,
		tx_hash     text,
		attempts    int,
		max_retries int,
		error       text
	)
`

func (s *Store) InsertRun(ctx context.Context, r *store.Run) error {
	if r.ID.IsNil() {
		var err error
		if r.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate run ID: %w", err)
		}
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	return s.transact(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunQuery,
			r.ID,
			r.ChainID,
			r.AuctionAddress,
			r.Signer,
			r.Reason,
			int64(r.FinalBlock),
			r.Submitted,
			r.Failed,
			r.Pending,
			nullText(r.Error),
			r.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if len(r.Outcomes) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, insertRunBidsQuery, r.ID, r.Outcomes); err != nil {
			return fmt.Errorf("insert run bids: %w", err)
		}

		return nil
	})
}

const selectRunsQuery = `
select
	r.id,
	r.chain_id,
	r.auction_address,
	r.signer,
	r.reason,
	r.final_block,
	r.submitted,
	r.failed,
	r.pending,
	r.error,
	r.created_at,
	coalesce(
		(
			select jsonb_agg(
				jsonb_build_object(
					'position',    b.position,
					'owner',       b.owner,
					'amount',      b.amount::text,
					'max_price',   b.max_price::text,
					'state',       b.state,
					'tx_hash',     b.tx_hash,
					'attempts',    b.attempts,
					'max_retries', b.max_retries,
					'error',       b.error
				)
				order by b.position
			)
			from run_bids b
			where b.run_id = r.id
		),
		'[]'::jsonb
	) as outcomes
from
	runs r
`

func (s *Store) SelectRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, selectRunsQuery+`where r.id = $1`, id))
	if err != nil {
		return nil, convertError(err)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, auctionAddress string) ([]*store.Run, error) {
	rows, err := s.pool.Query(ctx, selectRunsQuery+`
where
	lower(r.auction_address) = lower($1)
order by
	r.created_at asc
`, auctionAddress)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan err: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*store.Run, error) {
	var (
		r          store.Run
		finalBlock int64
		runErr     pgtype.Text
	)

	if err := row.Scan(
		&r.ID,
		&r.ChainID,
		&r.AuctionAddress,
		&r.Signer,
		&r.Reason,
		&finalBlock,
		&r.Submitted,
		&r.Failed,
		&r.Pending,
		&runErr,
		&r.CreatedAt,
		&r.Outcomes,
	); err != nil {
		return nil, err
	}

	r.FinalBlock = uint64(finalBlock)
	r.Error = runErr.String
	r.CreatedAt = r.CreatedAt.UTC()

	return &r, nil
}

//
//
//

func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}

func convertError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// pgxLogger forwards pgx's own logging at debug level.
type pgxLogger struct{ logger log.Logger }

func (l pgxLogger) Log(_ context.Context, lvl pgx.LogLevel, msg string, data map[string]any) {
	keys := maps.Keys(data)
	slices.Sort(keys)

	keyvals := make([]any, 0, 4+2*len(keys))
	keyvals = append(keyvals, "pgx_level", lvl.String(), "msg", msg)
	for _, k := range keys {
		keyvals = append(keyvals, k, fmt.Sprint(data[k]))
	}
	level.Debug(l.logger).Log(keyvals...)
}
