package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tablepos/promptpay/pos/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "pos.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return nil, fmt.Errorf("error closing migration: %v", errors.Join(srcErr, dbErr))
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() {
	sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveShop(shop storage.Shop) (int64, error) {
	result, err := sqlite.db.Exec(`
		INSERT INTO shops (name, promptpay_id, promptpay_kind, plan_expiry, created_at) VALUES (?, ?, ?, ?, ?)
	`, shop.Name, shop.PromptPayId, shop.PromptPayKind, shop.PlanExpiry, shop.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (sqlite *SQLiteDB) GetShop(id int64) (storage.Shop, error) {
	row := sqlite.db.QueryRow(`
		SELECT id, name, promptpay_id, promptpay_kind, plan_expiry, created_at FROM shops WHERE id = ?
	`, id)

	var shop storage.Shop
	err := row.Scan(
		&shop.Id,
		&shop.Name,
		&shop.PromptPayId,
		&shop.PromptPayKind,
		&shop.PlanExpiry,
		&shop.CreatedAt,
	)
	if err != nil {
		return storage.Shop{}, err
	}
	return shop, nil
}

func (sqlite *SQLiteDB) UpdateShopPromptPay(id int64, promptpayId, promptpayKind string) error {
	result, err := sqlite.db.Exec(
		"UPDATE shops SET promptpay_id = ?, promptpay_kind = ? WHERE id = ?",
		promptpayId, promptpayKind, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, "shop was not updated")
}

func (sqlite *SQLiteDB) SaveSubscription(subscription storage.Subscription) (int64, error) {
	result, err := sqlite.db.Exec(`
		INSERT INTO subscriptions (shop_id, plan, days, price, created_at) VALUES (?, ?, ?, ?, ?)
	`, subscription.ShopId, subscription.Plan, subscription.Days, subscription.Price.StringFixed(2), subscription.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (sqlite *SQLiteDB) GetSubscription(id int64) (storage.Subscription, error) {
	row := sqlite.db.QueryRow(`
		SELECT id, shop_id, plan, days, price, created_at FROM subscriptions WHERE id = ?
	`, id)

	var subscription storage.Subscription
	err := row.Scan(
		&subscription.Id,
		&subscription.ShopId,
		&subscription.Plan,
		&subscription.Days,
		&subscription.Price,
		&subscription.CreatedAt,
	)
	if err != nil {
		return storage.Subscription{}, err
	}
	return subscription, nil
}

func (sqlite *SQLiteDB) SavePaymentRequest(payment storage.PaymentRequest) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO payment_requests
		(id, shop_id, kind, reference, subscription_id, amount, payload, state, created_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.Id,
		payment.ShopId,
		string(payment.Kind),
		payment.Reference,
		payment.SubscriptionId,
		payment.Amount.StringFixed(2),
		payment.Payload,
		payment.State.String(),
		payment.CreatedAt,
		payment.PaidAt,
	)

	return err
}

const paymentColumns = `id, shop_id, kind, reference, subscription_id, amount, payload, state, created_at, paid_at`

func (sqlite *SQLiteDB) GetPaymentRequest(id string) (storage.PaymentRequest, error) {
	row := sqlite.db.QueryRow("SELECT "+paymentColumns+" FROM payment_requests WHERE id = ?", id)
	return scanPaymentRequest(row)
}

func (sqlite *SQLiteDB) GetPaymentRequestsByShop(shopId int64) ([]storage.PaymentRequest, error) {
	payments := []storage.PaymentRequest{}

	rows, err := sqlite.db.Query(
		"SELECT "+paymentColumns+" FROM payment_requests WHERE shop_id = ? ORDER BY rowid",
		shopId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		payment, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

func (sqlite *SQLiteDB) UpdatePaymentRequestState(id string, state storage.PaymentState, paidAt int64) error {
	result, err := sqlite.db.Exec(
		"UPDATE payment_requests SET state = ?, paid_at = ? WHERE id = ?",
		state.String(), paidAt, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, "payment request was not updated")
}

func (sqlite *SQLiteDB) SettleSubscriptionPayment(id string, paidAt int64, shopId int64, planExpiry int64) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}

	result, err := tx.Exec(
		"UPDATE payment_requests SET state = ?, paid_at = ? WHERE id = ? AND state = ?",
		storage.Paid.String(), paidAt, id, storage.Pending.String(),
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := expectOneRow(result, "payment request was not updated"); err != nil {
		tx.Rollback()
		return err
	}

	result, err = tx.Exec("UPDATE shops SET plan_expiry = ? WHERE id = ?", planExpiry, shopId)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := expectOneRow(result, "shop was not updated"); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPaymentRequest(row scanner) (storage.PaymentRequest, error) {
	var payment storage.PaymentRequest
	var kind, state string

	err := row.Scan(
		&payment.Id,
		&payment.ShopId,
		&kind,
		&payment.Reference,
		&payment.SubscriptionId,
		&payment.Amount,
		&payment.Payload,
		&state,
		&payment.CreatedAt,
		&payment.PaidAt,
	)
	if err != nil {
		return storage.PaymentRequest{}, err
	}
	payment.Kind = storage.PaymentKind(kind)
	payment.State = storage.StringToState(state)

	return payment, nil
}

func expectOneRow(result sql.Result, msg string) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New(msg)
	}
	return nil
}
