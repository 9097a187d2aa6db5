package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-restaurant/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// errStale rolls a transaction back when a guarded row no longer matches.
var errStale = errors.New("stale write")

func orderedItems(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("created_at ASC", "id ASC")
}

// ---------------- MENU ----------------

// GetMenuItems → menu items keyed by id; unknown ids are simply absent
func (d *DB) GetMenuItems(ctx context.Context, ids []string) (map[string]models.MenuItem, error) {
	out := make(map[string]models.MenuItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []models.MenuItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// ---------------- ORDERS ----------------

// CreateOrder → order, its items and the first ledger entry in one transaction
func (d *DB) CreateOrder(ctx context.Context, order *models.Order, entry *models.StatusLogEntry) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return fmt.Errorf("insert status log: %w", err)
		}
		return nil
	})
}

// GetOrder → one order with its items; sql.ErrNoRows when missing
func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Bun.NewSelect().
		Model(order).
		Relation("Items", orderedItems).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders → orders matching the filter, oldest first
func (d *DB) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	orders := []models.Order{}
	q := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items", orderedItems).
		OrderExpr("?TableAlias.created_at ASC")
	if len(filter.Statuses) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(filter.Statuses))
	}
	if filter.WaiterID != "" {
		q = q.Where("?TableAlias.waiter_id = ?", filter.WaiterID)
	}
	if filter.Unpaid {
		q = q.Where("?TableAlias.paid = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- TRANSITIONS ----------------

// ApplyStatusChange → guarded status update plus its ledger entry
func (d *DB) ApplyStatusChange(ctx context.Context, change models.StatusChange) (bool, error) {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return applyStatus(ctx, tx, change)
	})
	if errors.Is(err, errStale) {
		return false, nil
	}
	return err == nil, err
}

func applyStatus(ctx context.Context, tx bun.Tx, change models.StatusChange) error {
	q := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", change.To).
		Set("updated_at = ?", change.At).
		Where("id = ?", change.OrderID).
		Where("status = ?", change.From)
	switch change.To {
	case models.StatusReady:
		q = q.Set("actual_ready_time = ?", change.At)
	case models.StatusDelivered:
		q = q.Set("delivered_time = ?", change.At)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return errStale
	}

	entry := change.Entry()
	if _, err := tx.NewInsert().Model(&entry).Exec(ctx); err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

// SetItemReady → flips one item and, when the change carries it, moves the
// order to ready in the same transaction
func (d *DB) SetItemReady(ctx context.Context, change models.ItemReadyChange) (bool, error) {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.OrderItem)(nil)).
			Set("is_ready = ?", change.Ready).
			Where("id = ?", change.ItemID).
			Where("order_id = ?", change.OrderID).
			Where("is_ready = ?", !change.Ready).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update order item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errStale
		}

		if change.StatusChange != nil {
			return applyStatus(ctx, tx, *change.StatusChange)
		}
		_, err = tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("updated_at = ?", change.At).
			Where("id = ?", change.OrderID).
			Exec(ctx)
		return err
	})
	if errors.Is(err, errStale) {
		return false, nil
	}
	return err == nil, err
}

// MarkPaid → flips paid once, only for delivered orders
func (d *DB) MarkPaid(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("paid = ?", true).
		Set("paid_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", orderID).
		Where("paid = ?", false).
		Where("status = ?", models.StatusDelivered).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---------------- LEDGER ----------------

// History → ledger entries of one order in the order they were written
func (d *DB) History(ctx context.Context, orderID string) ([]models.StatusLogEntry, error) {
	entries := []models.StatusLogEntry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("order_id = ?", orderID).
		Order("changed_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LedgerSince → every ledger entry of orders that changed after since,
// grouped by order and ordered in time
func (d *DB) LedgerSince(ctx context.Context, since time.Time) ([]models.StatusLogEntry, error) {
	entries := []models.StatusLogEntry{}
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("order_id IN (?)", d.Bun.NewSelect().
			Model((*models.StatusLogEntry)(nil)).
			Column("order_id").
			Where("changed_at >= ?", since)).
		Order("order_id ASC", "changed_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ---------------- PURGE ----------------

// PurgeOrders → deletes closed orders created before the cutoff and records
// the purge. Ledger rows stay.
func (d *DB) PurgeOrders(ctx context.Context, before time.Time, actorID string, at time.Time) (int, error) {
	var count int
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		err := tx.NewSelect().
			Model((*models.Order)(nil)).
			Column("id").
			Where("created_at < ?", before).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					Where("status = ?", models.StatusCancelled).
					WhereOr("status = ? AND paid = ?", models.StatusDelivered, true)
			}).
			Scan(ctx, &ids)
		if err != nil {
			return fmt.Errorf("select purgeable orders: %w", err)
		}

		if len(ids) > 0 {
			if _, err := tx.NewDelete().
				Model((*models.OrderItem)(nil)).
				Where("order_id IN (?)", bun.In(ids)).
				Exec(ctx); err != nil {
				return fmt.Errorf("delete order items: %w", err)
			}
			if _, err := tx.NewDelete().
				Model((*models.Order)(nil)).
				Where("id IN (?)", bun.In(ids)).
				Exec(ctx); err != nil {
				return fmt.Errorf("delete orders: %w", err)
			}
		}

		record := &models.PurgeRecord{ActorID: actorID, Before: before, Count: len(ids), PurgedAt: at}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return fmt.Errorf("insert purge record: %w", err)
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
