package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pmx/market-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The Apply methods run inside a single transaction with FOR UPDATE row
// locks, so every logical operation commits fully or not at all.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const marketCols = `id, question, details, subject, creator,
	        b::TEXT, q_yes::TEXT, q_no::TEXT, implied_odds::TEXT, volume_traded::TEXT,
	        resolved, resolution, resolved_at, last_trade, created_at`

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var b, qYes, qNo, odds, volume, resolution string

	err := row.Scan(&m.ID, &m.Question, &m.Details, &m.Subject, &m.Creator,
		&b, &qYes, &qNo, &odds, &volume,
		&m.Resolved, &resolution, &m.ResolvedAt, &m.LastTrade, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.B, _ = decimal.NewFromString(b)
	m.QYes, _ = decimal.NewFromString(qYes)
	m.QNo, _ = decimal.NewFromString(qNo)
	m.ImpliedOdds, _ = decimal.NewFromString(odds)
	m.VolumeTraded, _ = decimal.NewFromString(volume)
	m.Resolution = model.Resolution(resolution)

	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, details, subject, creator,
		                      b, q_yes, q_no, implied_odds, volume_traded,
		                      resolved, resolution, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13)`,
		m.ID, m.Question, m.Details, m.Subject, m.Creator,
		m.B.String(), m.QYes.String(), m.QNo.String(),
		m.ImpliedOdds.String(), m.VolumeTraded.String(),
		m.Resolved, string(m.Resolution), m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrDuplicateID)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

// GetMarketForUpdate is identical to GetMarket at this layer; the pool is
// already the source of truth. Cached stores route around their cache here.
func (s *PostgresStore) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return s.GetMarket(ctx, id)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) DeleteMarket(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE market_id = $1`, id); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string, outcome model.Outcome) (*model.Position, error) {
	var p model.Position
	var shares, costBasis, outcomeS string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, cost_basis::TEXT, updated_at
		 FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
		userID, marketID, string(outcome)).
		Scan(&p.UserID, &p.MarketID, &outcomeS, &shares, &costBasis, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s/%s: %w", userID, marketID, outcome, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.Outcome = model.Outcome(outcomeS)
	p.Shares, _ = decimal.NewFromString(shares)
	p.CostBasis, _ = decimal.NewFromString(costBasis)
	return &p, nil
}

func (s *PostgresStore) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, cost_basis::TEXT, updated_at
		 FROM positions WHERE market_id = $1 ORDER BY user_id, outcome`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, market_id, outcome, shares::TEXT, cost_basis::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY market_id, outcome`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, costBasis, outcomeS string

		if err := rows.Scan(&p.UserID, &p.MarketID, &outcomeS,
			&shares, &costBasis, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Outcome = model.Outcome(outcomeS)
		p.Shares, _ = decimal.NewFromString(shares)
		p.CostBasis, _ = decimal.NewFromString(costBasis)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetOrCreateBalance(ctx context.Context, account string, initial decimal.Decimal) (*model.Balance, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (account, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO NOTHING`,
		account, initial.String())
	if err != nil {
		return nil, err
	}
	return s.getBalance(ctx, s.pool, account)
}

// querier covers both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *PostgresStore) getBalance(ctx context.Context, q querier, account string) (*model.Balance, error) {
	var b model.Balance
	var balance, traded, resolved string

	err := q.QueryRow(ctx,
		`SELECT account, balance::TEXT, volume_traded::TEXT, volume_resolved::TEXT
		 FROM balances WHERE account = $1`, account).
		Scan(&b.Account, &balance, &traded, &resolved)
	if err != nil {
		return nil, err
	}

	b.Balance, _ = decimal.NewFromString(balance)
	b.VolumeTraded, _ = decimal.NewFromString(traded)
	b.VolumeResolved, _ = decimal.NewFromString(resolved)
	return &b, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApply) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	e := app.Entry

	// Lock the market row and re-check the resolved flag inside the
	// transaction.
	var resolved bool
	err = tx.QueryRow(ctx,
		`SELECT resolved FROM markets WHERE id = $1 FOR UPDATE`, e.MarketID).
		Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("market %s: %w", e.MarketID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if resolved {
		return fmt.Errorf("market %s: %w", e.MarketID, model.ErrMarketResolved)
	}

	// Lock the user's balance row; the engine creates it before confirming,
	// but guard against a missing row anyway.
	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`,
		e.UserID); err != nil {
		return err
	}
	var balanceS string
	if err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM balances WHERE account = $1 FOR UPDATE`,
		e.UserID).Scan(&balanceS); err != nil {
		return err
	}
	balance, _ := decimal.NewFromString(balanceS)

	if e.Dollars.IsPositive() && balance.LessThan(e.Dollars) {
		return fmt.Errorf("account %s has %s, needs %s: %w",
			e.UserID, balance, e.Dollars, model.ErrInsufficientFunds)
	}

	// Current position, if any.
	var shares, costBasis decimal.Decimal
	var sharesS, costS string
	err = tx.QueryRow(ctx,
		`SELECT shares::TEXT, cost_basis::TEXT FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome = $3 FOR UPDATE`,
		e.UserID, e.MarketID, string(e.Outcome)).Scan(&sharesS, &costS)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No existing position.
	case err != nil:
		return err
	default:
		shares, _ = decimal.NewFromString(sharesS)
		costBasis, _ = decimal.NewFromString(costS)
	}

	if e.Shares.IsNegative() && shares.LessThan(e.Shares.Neg()) {
		return fmt.Errorf("account %s selling %s shares: %w",
			e.UserID, e.Shares.Neg(), model.ErrInsufficientShares)
	}

	// All validations passed; apply every effect.
	newBalance := balance.Sub(e.Dollars)
	if _, err := tx.Exec(ctx,
		`UPDATE balances
		 SET balance = $2::NUMERIC, volume_traded = volume_traded + $3::NUMERIC
		 WHERE account = $1`,
		e.UserID, newBalance.String(), e.Dollars.Abs().String()); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (account, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		app.PoolAccount, e.Dollars.String()); err != nil {
		return err
	}

	newShares := shares.Add(e.Shares)
	newCost := costBasis.Add(e.Dollars)
	if newShares.IsPositive() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (user_id, market_id, outcome, shares, cost_basis, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
			 ON CONFLICT (user_id, market_id, outcome)
			 DO UPDATE SET shares = EXCLUDED.shares, cost_basis = EXCLUDED.cost_basis,
			               updated_at = EXCLUDED.updated_at`,
			e.UserID, e.MarketID, string(e.Outcome),
			newShares.String(), newCost.String(), e.CreatedAt); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
			e.UserID, e.MarketID, string(e.Outcome)); err != nil {
			return err
		}
	}

	m := app.Market
	if _, err := tx.Exec(ctx,
		`UPDATE markets
		 SET q_yes = $2::NUMERIC, q_no = $3::NUMERIC, implied_odds = $4::NUMERIC,
		     volume_traded = $5::NUMERIC, last_trade = $6
		 WHERE id = $1`,
		m.ID, m.QYes.String(), m.QNo.String(), m.ImpliedOdds.String(),
		m.VolumeTraded.String(), m.LastTrade); err != nil {
		return err
	}

	e.Balance = newBalance
	if _, err := tx.Exec(ctx,
		`INSERT INTO trade_log (id, user_id, market_id, outcome, shares, dollars, avg_price, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.UserID, e.MarketID, string(e.Outcome),
		e.Shares.String(), e.Dollars.String(), e.AvgPrice.String(),
		e.Balance.String(), e.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyResolution(ctx context.Context, app *ResolutionApply) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := app.Market

	var resolved bool
	err = tx.QueryRow(ctx,
		`SELECT resolved FROM markets WHERE id = $1 FOR UPDATE`, m.ID).
		Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if resolved {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrAlreadyResolved)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET resolved = TRUE, resolution = $2, resolved_at = $3 WHERE id = $1`,
		m.ID, string(m.Resolution), m.ResolvedAt); err != nil {
		return err
	}

	for _, c := range app.Credits {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (account, balance, volume_resolved)
			 VALUES ($1, $2::NUMERIC, $2::NUMERIC)
			 ON CONFLICT (account)
			 DO UPDATE SET balance = balances.balance + EXCLUDED.balance,
			               volume_resolved = balances.volume_resolved + EXCLUDED.volume_resolved`,
			c.Account, c.Amount.String()); err != nil {
			return err
		}
	}

	for _, e := range app.Entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO resolution_log (id, market_id, user_id, outcome, shares, redeemed, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			e.ID, e.MarketID, e.UserID, string(e.Outcome),
			e.Shares.String(), e.Redeemed.String(), e.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyTransfer(ctx context.Context, app *TransferApply) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	e := app.Entry

	// Lock account rows in sorted order so concurrent opposing transfers
	// cannot deadlock.
	accounts := make([]string, 0, 2)
	if e.FromUser != "" {
		accounts = append(accounts, e.FromUser)
	}
	if e.ToUser != "" {
		accounts = append(accounts, e.ToUser)
	}
	sort.Strings(accounts)

	balances := make(map[string]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (account, balance) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (account) DO NOTHING`,
			account, app.DefaultBalance.String()); err != nil {
			return err
		}
		var balanceS string
		if err := tx.QueryRow(ctx,
			`SELECT balance::TEXT FROM balances WHERE account = $1 FOR UPDATE`,
			account).Scan(&balanceS); err != nil {
			return err
		}
		balances[account], _ = decimal.NewFromString(balanceS)
	}

	if e.FromUser != "" {
		balance := balances[e.FromUser]
		if balance.LessThan(e.Amount) {
			return fmt.Errorf("account %s has %s, needs %s: %w",
				e.FromUser, balance, e.Amount, model.ErrInsufficientFunds)
		}
		e.FromBalance = balance.Sub(e.Amount)
		if _, err := tx.Exec(ctx,
			`UPDATE balances SET balance = $2::NUMERIC WHERE account = $1`,
			e.FromUser, e.FromBalance.String()); err != nil {
			return err
		}
	}

	if e.ToUser != "" {
		e.ToBalance = balances[e.ToUser].Add(e.Amount)
		if _, err := tx.Exec(ctx,
			`UPDATE balances SET balance = $2::NUMERIC WHERE account = $1`,
			e.ToUser, e.ToBalance.String()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transfer_log (id, type, from_user, to_user, amount, from_balance, to_balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, string(e.Type), e.FromUser, e.ToUser,
		e.Amount.String(), e.FromBalance.String(), e.ToBalance.String(),
		e.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const tradeCols = `id, user_id, market_id, outcome, shares::TEXT, dollars::TEXT,
	        avg_price::TEXT, balance::TEXT, created_at`

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID string, limit int) ([]model.TradeLogEntry, error) {
	// Most recent limit entries, returned oldest first. NULLIF turns the
	// zero limit into LIMIT NULL (no limit).
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		    SELECT `+tradeCols+` FROM trade_log WHERE market_id = $1
		    ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)
		 ) recent ORDER BY created_at, id`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeEntries(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string, limit int) ([]model.TradeLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		    SELECT `+tradeCols+` FROM trade_log WHERE user_id = $1
		    ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)
		 ) recent ORDER BY created_at, id`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTradeEntries(rows)
}

func scanTradeEntries(rows pgx.Rows) ([]model.TradeLogEntry, error) {
	var entries []model.TradeLogEntry
	for rows.Next() {
		var e model.TradeLogEntry
		var outcomeS, sharesS, dollarsS, priceS, balanceS string

		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketID, &outcomeS,
			&sharesS, &dollarsS, &priceS, &balanceS, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Outcome = model.Outcome(outcomeS)
		e.Shares, _ = decimal.NewFromString(sharesS)
		e.Dollars, _ = decimal.NewFromString(dollarsS)
		e.AvgPrice, _ = decimal.NewFromString(priceS)
		e.Balance, _ = decimal.NewFromString(balanceS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ResolutionsByMarket(ctx context.Context, marketID string) ([]model.ResolutionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, outcome, shares::TEXT, redeemed::TEXT, created_at
		 FROM resolution_log WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ResolutionLogEntry
	for rows.Next() {
		var e model.ResolutionLogEntry
		var outcomeS, sharesS, redeemedS string

		if err := rows.Scan(&e.ID, &e.MarketID, &e.UserID, &outcomeS,
			&sharesS, &redeemedS, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Outcome = model.Outcome(outcomeS)
		e.Shares, _ = decimal.NewFromString(sharesS)
		e.Redeemed, _ = decimal.NewFromString(redeemedS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) TransfersByAccount(ctx context.Context, account string, limit int) ([]model.TransferLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		    SELECT id, type, from_user, to_user, amount::TEXT, from_balance::TEXT, to_balance::TEXT, created_at
		    FROM transfer_log WHERE from_user = $1 OR to_user = $1
		    ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)
		 ) recent ORDER BY created_at, id`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.TransferLogEntry
	for rows.Next() {
		var e model.TransferLogEntry
		var typeS, amountS, fromS, toS string

		if err := rows.Scan(&e.ID, &typeS, &e.FromUser, &e.ToUser,
			&amountS, &fromS, &toS, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Type = model.TransferType(typeS)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.FromBalance, _ = decimal.NewFromString(fromS)
		e.ToBalance, _ = decimal.NewFromString(toS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
