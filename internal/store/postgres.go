package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const movieColumns = `id, title, symbol, status, genres,
	current_price::TEXT, initial_price::TEXT, hype_score::TEXT, volume_24h::TEXT,
	trading_active, created_at, updated_at`

func scanMovie(row pgx.Row) (*model.Movie, error) {
	var m model.Movie
	var current, initial, hype, volume string

	err := row.Scan(&m.ID, &m.Title, &m.Symbol, &m.Status, &m.Genres,
		&current, &initial, &hype, &volume,
		&m.TradingActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.CurrentPrice, _ = decimal.NewFromString(current)
	m.InitialPrice, _ = decimal.NewFromString(initial)
	m.HypeScore, _ = decimal.NewFromString(hype)
	m.Volume24h, _ = decimal.NewFromString(volume)
	return &m, nil
}

func (s *PostgresStore) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	m, err := scanMovie(s.pool.QueryRow(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("movie %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get movie %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMovieBySymbol(ctx context.Context, symbol string) (*model.Movie, error) {
	m, err := scanMovie(s.pool.QueryRow(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("movie symbol %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get movie by symbol %s: %w", symbol, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMovies(ctx context.Context, f MovieFilter) ([]model.Movie, int, error) {
	where := ` WHERE ($1 = '' OR status = $1)
	       AND ($2 = '' OR $2 ILIKE ANY(genres))
	       AND ($3 = '' OR title ILIKE '%' || $3 || '%' OR symbol ILIKE '%' || $3 || '%')`

	orderCol := "hype_score"
	switch f.SortBy {
	case "current_price", "volume_24h":
		orderCol = f.SortBy
	}
	dir := "DESC"
	if f.Asc {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + movieColumns + ` FROM movies` + where +
		` ORDER BY ` + orderCol + ` ` + dir + ` LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, query, f.Status, f.Genre, f.Search, limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movies []model.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, 0, err
		}
		movies = append(movies, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM movies`+where,
		f.Status, f.Genre, f.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return movies, total, nil
}

func (s *PostgresStore) UpdateMoviePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE movies SET current_price = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
		id, price.String(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("movie %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		accountID, balance.String())
	return err
}

func (s *PostgresStore) GetAccountMargin(ctx context.Context, accountID string) (model.AccountMargin, error) {
	var balance, inUse string

	err := s.pool.QueryRow(ctx,
		`SELECT a.balance::TEXT,
		        COALESCE((SELECT SUM(p.margin_used) FROM positions p WHERE p.account_id = a.id), 0)::TEXT
		 FROM accounts a WHERE a.id = $1`, accountID).
		Scan(&balance, &inUse)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccountMargin{}, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return model.AccountMargin{}, fmt.Errorf("get account margin %s: %w", accountID, err)
	}

	m := model.AccountMargin{AccountID: accountID}
	m.Balance, _ = decimal.NewFromString(balance)
	m.MarginInUse, _ = decimal.NewFromString(inUse)
	return m, nil
}

const positionColumns = `account_id, movie_id, shares_owned, shares_shorted,
	avg_buy_price::TEXT, avg_short_price::TEXT, realized_pnl::TEXT,
	total_invested::TEXT, margin_used::TEXT, version,
	created_at, updated_at, last_trade_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var avgBuy, avgShort, realized, invested, marginUsed string
	var lastTrade *time.Time

	err := row.Scan(&p.AccountID, &p.MovieID, &p.SharesOwned, &p.SharesShorted,
		&avgBuy, &avgShort, &realized, &invested, &marginUsed, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &lastTrade)
	if err != nil {
		return nil, err
	}
	p.AvgBuyPrice, _ = decimal.NewFromString(avgBuy)
	p.AvgShortPrice, _ = decimal.NewFromString(avgShort)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	p.MarginUsed, _ = decimal.NewFromString(marginUsed)
	if lastTrade != nil {
		p.LastTradeAt = *lastTrade
	}
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, movieID string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 AND movie_id = $2`,
		accountID, movieID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, movieID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, movieID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 ORDER BY movie_id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

func (s *PostgresStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE shares_owned > 0 OR shares_shorted > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const tradeColumns = `id, account_id, movie_id, kind, status, shares,
	leverage::TEXT, quoted_price::TEXT, total_amount::TEXT, slippage::TEXT,
	execution_price::TEXT, margin_required::TEXT, margin_used::TEXT,
	failure_kind, idempotency_key, created_at, executed_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var leverage, quoted, total, slippage, execPrice, marginReq, marginUsed string
	var executedAt *time.Time

	err := row.Scan(&t.ID, &t.AccountID, &t.MovieID, &t.Kind, &t.Status, &t.Shares,
		&leverage, &quoted, &total, &slippage,
		&execPrice, &marginReq, &marginUsed,
		&t.FailureKind, &t.IdempotencyKey, &t.CreatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	t.Leverage, _ = decimal.NewFromString(leverage)
	t.QuotedPrice, _ = decimal.NewFromString(quoted)
	t.TotalAmount, _ = decimal.NewFromString(total)
	t.Slippage, _ = decimal.NewFromString(slippage)
	t.ExecutionPrice, _ = decimal.NewFromString(execPrice)
	t.MarginRequired, _ = decimal.NewFromString(marginReq)
	t.MarginUsed, _ = decimal.NewFromString(marginUsed)
	if executedAt != nil {
		t.ExecutedAt = *executedAt
	}
	return &t, nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, account_id, movie_id, kind, status, shares,
		    leverage, quoted_price, total_amount, slippage,
		    execution_price, margin_required, margin_used,
		    failure_kind, idempotency_key, created_at, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		    $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		    $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
		    $14, $15, $16, $17)`,
		tradeArgs(t)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicateTrade)
	}
	return err
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return updateTradeExec(ctx, s.pool, t)
}

// execer covers both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateTradeExec(ctx context.Context, db execer, t *model.Trade) error {
	_, err := db.Exec(ctx,
		`UPDATE trades SET status = $2, slippage = $3::NUMERIC,
		    execution_price = $4::NUMERIC, margin_used = $5::NUMERIC,
		    failure_kind = $6, executed_at = $7
		 WHERE id = $1`,
		t.ID, t.Status, t.Slippage.String(),
		t.ExecutionPrice.String(), t.MarginUsed.String(),
		t.FailureKind, nullableTime(t.ExecutedAt))
	return err
}

func tradeArgs(t *model.Trade) []any {
	return []any{
		t.ID, t.AccountID, t.MovieID, t.Kind, t.Status, t.Shares,
		t.Leverage.String(), t.QuotedPrice.String(), t.TotalAmount.String(), t.Slippage.String(),
		t.ExecutionPrice.String(), t.MarginRequired.String(), t.MarginUsed.String(),
		t.FailureKind, t.IdempotencyKey, t.CreatedAt, nullableTime(t.ExecutedAt),
	}
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) GetTradeByIdempotencyKey(ctx context.Context, accountID, key string) (*model.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE account_id = $1 AND idempotency_key = $2`, accountID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade by idempotency key: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CommitExecution writes the executed trade, the position (guarded by the
// version the caller read), and the valuation snapshot in one transaction.
// The stored position is either fully updated or fully unaffected.
func (s *PostgresStore) CommitExecution(ctx context.Context, t *model.Trade, pos *model.Position, snap *model.ValuationSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if pos.Version == 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (account_id, movie_id, shares_owned, shares_shorted,
			    avg_buy_price, avg_short_price, realized_pnl, total_invested, margin_used,
			    version, created_at, updated_at, last_trade_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
			    $9::NUMERIC, 1, NOW(), $10, $10)`,
			pos.AccountID, pos.MovieID, pos.SharesOwned, pos.SharesShorted,
			pos.AvgBuyPrice.String(), pos.AvgShortPrice.String(),
			pos.RealizedPnL.String(), pos.TotalInvested.String(), pos.MarginUsed.String(),
			pos.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE positions SET shares_owned = $3, shares_shorted = $4,
			    avg_buy_price = $5::NUMERIC, avg_short_price = $6::NUMERIC,
			    realized_pnl = $7::NUMERIC, total_invested = $8::NUMERIC,
			    margin_used = $9::NUMERIC, version = version + 1,
			    updated_at = $10, last_trade_at = $10
			 WHERE account_id = $1 AND movie_id = $2 AND version = $11`,
			pos.AccountID, pos.MovieID, pos.SharesOwned, pos.SharesShorted,
			pos.AvgBuyPrice.String(), pos.AvgShortPrice.String(),
			pos.RealizedPnL.String(), pos.TotalInvested.String(), pos.MarginUsed.String(),
			pos.UpdatedAt, pos.Version)
		if err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
	}

	if err := updateTradeExec(ctx, tx, t); err != nil {
		return fmt.Errorf("update trade: %w", err)
	}

	if snap != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO valuation_snapshots (account_id, movie_id, value, at)
			 VALUES ($1, $2, $3::NUMERIC, $4)`,
			snap.AccountID, snap.MovieID, snap.Value.String(), snap.At)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit execution: %w", err)
	}
	pos.Version++
	return nil
}

func (s *PostgresStore) InsertValuation(ctx context.Context, snap *model.ValuationSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO valuation_snapshots (account_id, movie_id, value, at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		snap.AccountID, snap.MovieID, snap.Value.String(), snap.At)
	return err
}

func (s *PostgresStore) ValuationAt(ctx context.Context, accountID, movieID string, at time.Time) (*model.ValuationSnapshot, error) {
	var snap model.ValuationSnapshot
	var value string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, movie_id, value::TEXT, at
		 FROM valuation_snapshots
		 WHERE account_id = $1 AND movie_id = $2 AND at <= $3
		 ORDER BY at DESC LIMIT 1`, accountID, movieID, at).
		Scan(&snap.AccountID, &snap.MovieID, &value, &snap.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Value, _ = decimal.NewFromString(value)
	return &snap, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
