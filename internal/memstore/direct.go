package memstore

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

// Single-operation calls each run in their own transaction.

func (s *Store) ReserveForBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.ReserveForBuy(ctx, userID, amount) })
}

func (s *Store) ReserveForSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.ReserveForSell(ctx, userID, symbol, qty) })
}

func (s *Store) SettleBuy(ctx context.Context, userID int64, symbol string, qty int64, price decimal.Decimal) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.SettleBuy(ctx, userID, symbol, qty, price) })
}

func (s *Store) SettleSell(ctx context.Context, userID int64, price decimal.Decimal, qty int64) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.SettleSell(ctx, userID, price, qty) })
}

func (s *Store) RefundBuy(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.RefundBuy(ctx, userID, amount) })
}

func (s *Store) RefundSell(ctx context.Context, userID int64, symbol string, qty int64) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.RefundSell(ctx, userID, symbol, qty) })
}

func (s *Store) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return s.InTx(ctx, func(tx market.Tx) error { return tx.Deposit(ctx, userID, amount) })
}

func (s *Store) GetUser(ctx context.Context, userID int64) (user *models.User, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	return user, err
}

func (s *Store) GetPositions(ctx context.Context, userID int64) (positions []models.Position, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		positions, err = tx.GetPositions(ctx, userID)
		return err
	})
	return positions, err
}

func (s *Store) InsertLimitOrder(ctx context.Context, order *models.LimitOrder) (stored *models.LimitOrder, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		stored, err = tx.InsertLimitOrder(ctx, order)
		return err
	})
	return stored, err
}

func (s *Store) InsertAlert(ctx context.Context, alert *models.PriceAlert) (stored *models.PriceAlert, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		stored, err = tx.InsertAlert(ctx, alert)
		return err
	})
	return stored, err
}

func (s *Store) GetLimitOrder(ctx context.Context, orderID int64) (order *models.LimitOrder, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		order, err = tx.GetLimitOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (s *Store) AllPendingOrders(ctx context.Context) (orders []models.LimitOrder, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		orders, err = tx.AllPendingOrders(ctx)
		return err
	})
	return orders, err
}

func (s *Store) AllUntriggeredAlerts(ctx context.Context) (alerts []models.PriceAlert, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		alerts, err = tx.AllUntriggeredAlerts(ctx)
		return err
	})
	return alerts, err
}

func (s *Store) GetUserOrders(ctx context.Context, userID int64) (orders []models.LimitOrder, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		orders, err = tx.GetUserOrders(ctx, userID)
		return err
	})
	return orders, err
}

func (s *Store) GetUserAlerts(ctx context.Context, userID int64) (alerts []models.PriceAlert, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		alerts, err = tx.GetUserAlerts(ctx, userID)
		return err
	})
	return alerts, err
}

func (s *Store) DeleteOrder(ctx context.Context, orderID int64) (deleted bool, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		deleted, err = tx.DeleteOrder(ctx, orderID)
		return err
	})
	return deleted, err
}

func (s *Store) MarkAlertTriggered(ctx context.Context, alertID int64) (flipped bool, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		flipped, err = tx.MarkAlertTriggered(ctx, alertID)
		return err
	})
	return flipped, err
}

func (s *Store) DeleteAlert(ctx context.Context, alertID, userID int64) (deleted bool, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		deleted, err = tx.DeleteAlert(ctx, alertID, userID)
		return err
	})
	return deleted, err
}

func (s *Store) AddWatch(ctx context.Context, watch *models.Watch) (added bool, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		added, err = tx.AddWatch(ctx, watch)
		return err
	})
	return added, err
}

func (s *Store) RemoveWatch(ctx context.Context, userID int64, symbol string) (removed bool, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		removed, err = tx.RemoveWatch(ctx, userID, symbol)
		return err
	})
	return removed, err
}

func (s *Store) GetWatchlist(ctx context.Context, userID int64) (watches []models.Watch, err error) {
	err = s.InTx(ctx, func(tx market.Tx) error {
		watches, err = tx.GetWatchlist(ctx, userID)
		return err
	})
	return watches, err
}
