package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ market.Store = (*DB)(nil)

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool. Calls made directly on DB run
// outside any transaction; use InTx to group them.
type DB struct {
	Pool *pgxpool.Pool
	*Tx
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool, Tx: &Tx{q: pool}}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	for _, entry := range entries {
		script, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.Pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// InTx runs fn inside one database transaction, committing only if fn succeeds
func (db *DB) InTx(ctx context.Context, fn func(tx market.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Tx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx implements market.Tx with conditional single-statement updates.
// Decimals travel as text and are cast to NUMERIC in SQL.
type Tx struct {
	q querier
}

func (t *Tx) ensureUser(ctx context.Context, userID int64) error {
	_, err := t.q.Exec(ctx, "INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (t *Tx) ReserveForBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", market.ErrInvalidOrder)
	}
	if err := t.ensureUser(ctx, userID); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		"UPDATE users SET balance = balance - $2::numeric WHERE user_id = $1 AND balance >= $2::numeric",
		userID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to reserve funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return market.ErrInsufficientFunds
	}
	return nil
}

func (t *Tx) ReserveForSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	tag, err := t.q.Exec(ctx,
		"UPDATE positions SET shares = shares - $3 WHERE user_id = $1 AND symbol = $2 AND shares >= $3",
		userID, symbol, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve shares: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return market.ErrInsufficientShares
	}
	return nil
}

func (t *Tx) SettleBuy(ctx context.Context, userID int64, symbol string, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	if err := t.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO positions (user_id, symbol, shares, avg_buy_price)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			avg_buy_price = ROUND(
				(positions.avg_buy_price * positions.shares + EXCLUDED.avg_buy_price * EXCLUDED.shares)
				/ (positions.shares + EXCLUDED.shares), 8),
			shares = positions.shares + EXCLUDED.shares`,
		userID, symbol, qty, price.String())
	if err != nil {
		return fmt.Errorf("failed to settle buy: %w", err)
	}
	return nil
}

func (t *Tx) SettleSell(ctx context.Context, userID int64, price decimal.Decimal, qty int64) error {
	return t.credit(ctx, userID, price.Mul(decimal.NewFromInt(qty)))
}

func (t *Tx) RefundBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return t.credit(ctx, userID, amount)
}

func (t *Tx) RefundSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	if err := t.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO positions (user_id, symbol, shares, avg_buy_price)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, symbol) DO UPDATE SET shares = positions.shares + EXCLUDED.shares`,
		userID, symbol, qty)
	if err != nil {
		return fmt.Errorf("failed to refund shares: %w", err)
	}
	return nil
}

func (t *Tx) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return t.credit(ctx, userID, amount)
}

func (t *Tx) credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", market.ErrInvalidOrder)
	}
	if err := t.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx, "UPDATE users SET balance = balance + $2::numeric WHERE user_id = $1", userID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// GetUser returns a zero-balance user when no row exists yet
func (t *Tx) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user := &models.User{ID: userID, Balance: decimal.Zero, Bank: decimal.Zero}
	var balance, bank string
	err := t.q.QueryRow(ctx,
		"SELECT balance::text, bank::text FROM users WHERE user_id = $1", userID).Scan(&balance, &bank)
	if errors.Is(err, pgx.ErrNoRows) {
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	if user.Bank, err = decimal.NewFromString(bank); err != nil {
		return nil, fmt.Errorf("failed to parse bank: %w", err)
	}
	return user, nil
}

func (t *Tx) GetPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	rows, err := t.q.Query(ctx,
		"SELECT user_id, symbol, shares, avg_buy_price::text FROM positions WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var pos models.Position
		var avg string
		if err := rows.Scan(&pos.UserID, &pos.Symbol, &pos.Shares, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if pos.AvgBuyPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("failed to parse avg buy price: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (t *Tx) InsertLimitOrder(ctx context.Context, order *models.LimitOrder) (*models.LimitOrder, error) {
	if err := t.ensureUser(ctx, order.UserID); err != nil {
		return nil, err
	}
	stored := *order
	err := t.q.QueryRow(ctx, `
		INSERT INTO limit_orders (user_id, symbol, side, target_price, quantity, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING order_id`,
		order.UserID, order.Symbol, string(order.Side), order.TargetPrice.String(), order.Quantity, order.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &stored, nil
}

func (t *Tx) InsertAlert(ctx context.Context, alert *models.PriceAlert) (*models.PriceAlert, error) {
	if err := t.ensureUser(ctx, alert.UserID); err != nil {
		return nil, err
	}
	stored := *alert
	stored.Triggered = false
	err := t.q.QueryRow(ctx, `
		INSERT INTO price_alerts (user_id, symbol, target_price, condition, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING alert_id`,
		alert.UserID, alert.Symbol, alert.TargetPrice.String(), string(alert.Condition), alert.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	return &stored, nil
}

const orderColumns = "order_id, user_id, symbol, side, target_price::text, quantity, created_at"

func scanOrder(row pgx.Row) (models.LimitOrder, error) {
	var o models.LimitOrder
	var side, target string
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &target, &o.Quantity, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Side = models.Side(side)
	price, err := decimal.NewFromString(target)
	if err != nil {
		return o, fmt.Errorf("failed to parse target price: %w", err)
	}
	o.TargetPrice = price
	return o, nil
}

func (t *Tx) queryOrders(ctx context.Context, sql string, args ...any) ([]models.LimitOrder, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	var orders []models.LimitOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (t *Tx) GetLimitOrder(ctx context.Context, orderID int64) (*models.LimitOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM limit_orders WHERE order_id = $1", orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// AllPendingOrders returns every order in time priority
func (t *Tx) AllPendingOrders(ctx context.Context) ([]models.LimitOrder, error) {
	return t.queryOrders(ctx, "SELECT "+orderColumns+" FROM limit_orders ORDER BY created_at ASC, order_id ASC")
}

func (t *Tx) GetUserOrders(ctx context.Context, userID int64) ([]models.LimitOrder, error) {
	return t.queryOrders(ctx, "SELECT "+orderColumns+" FROM limit_orders WHERE user_id = $1 ORDER BY order_id", userID)
}

const alertColumns = "alert_id, user_id, symbol, target_price::text, condition, triggered, created_at"

func (t *Tx) queryAlerts(ctx context.Context, sql string, args ...any) ([]models.PriceAlert, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.PriceAlert
	for rows.Next() {
		var a models.PriceAlert
		var target, condition string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &target, &condition, &a.Triggered, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if a.TargetPrice, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("failed to parse target price: %w", err)
		}
		a.Condition = models.Condition(condition)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (t *Tx) AllUntriggeredAlerts(ctx context.Context) ([]models.PriceAlert, error) {
	return t.queryAlerts(ctx, "SELECT "+alertColumns+" FROM price_alerts WHERE NOT triggered ORDER BY alert_id")
}

func (t *Tx) GetUserAlerts(ctx context.Context, userID int64) ([]models.PriceAlert, error) {
	return t.queryAlerts(ctx, "SELECT "+alertColumns+" FROM price_alerts WHERE user_id = $1 AND NOT triggered ORDER BY alert_id", userID)
}

// DeleteOrder is the conditional delete that decides a cancel/match race:
// whichever statement removes the row wins, the other sees zero rows.
func (t *Tx) DeleteOrder(ctx context.Context, orderID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM limit_orders WHERE order_id = $1", orderID)
	if err != nil {
		return false, fmt.Errorf("failed to delete order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) MarkAlertTriggered(ctx context.Context, alertID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, "UPDATE price_alerts SET triggered = true WHERE alert_id = $1 AND NOT triggered", alertID)
	if err != nil {
		return false, fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM price_alerts WHERE alert_id = $1 AND user_id = $2", alertID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) AddWatch(ctx context.Context, watch *models.Watch) (bool, error) {
	if err := t.ensureUser(ctx, watch.UserID); err != nil {
		return false, err
	}
	tag, err := t.q.Exec(ctx, `
		INSERT INTO watchlist (user_id, symbol, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, symbol) DO NOTHING`,
		watch.UserID, watch.Symbol, watch.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to add watch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) RemoveWatch(ctx context.Context, userID int64, symbol string) (bool, error) {
	tag, err := t.q.Exec(ctx, "DELETE FROM watchlist WHERE user_id = $1 AND symbol = $2", userID, symbol)
	if err != nil {
		return false, fmt.Errorf("failed to remove watch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) GetWatchlist(ctx context.Context, userID int64) ([]models.Watch, error) {
	rows, err := t.q.Query(ctx,
		"SELECT user_id, symbol, created_at FROM watchlist WHERE user_id = $1 ORDER BY created_at, symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist: %w", err)
	}
	defer rows.Close()

	var watches []models.Watch
	for rows.Next() {
		var w models.Watch
		if err := rows.Scan(&w.UserID, &w.Symbol, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}
