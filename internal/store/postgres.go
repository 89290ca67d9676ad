package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
)

// writerLockKey is the advisory lock every Update holds, making PostgreSQL
// the single writer across engine instances.
const writerLockKey int64 = 0x45534352 // "ESCR"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC(78,0) and cross the driver as
// decimal text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Update runs fn in a READ COMMITTED transaction that first takes the
// writer advisory lock. Statements after the lock see every previously
// committed update, and no other writer can interleave.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
			return fmt.Errorf("acquire writer lock: %w", err)
		}
		return fn(&pgTx{ctx: ctx, tx: tx})
	})
}

// View runs fn in a read-only REPEATABLE READ snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{ctx: ctx, tx: tx, readOnly: true})
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Context() context.Context { return t.ctx }

func (t *pgTx) exec(sql string, args ...any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(t.ctx, sql, args...)
	return err
}

// num scans NUMERIC::TEXT columns into a fixed.Amount.
type num struct{ dst *fixed.Amount }

func (n num) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = fixed.Zero
		return nil
	case string:
		return n.dst.UnmarshalText([]byte(v))
	case []byte:
		return n.dst.UnmarshalText(v)
	default:
		return fmt.Errorf("store: cannot scan %T into amount", src)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func (t *pgTx) NextID(seq string) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	var id int64
	err := t.tx.QueryRow(t.ctx,
		`INSERT INTO counters (name, value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		 RETURNING value`, seq).Scan(&id)
	return uint64(id), err
}

// --- Ads ---

const adColumns = `id, maker, is_buy, asset,
	original_amount::TEXT, amount_remaining::TEXT, payment_asset,
	unit_price::TEXT, min_order_amount::TEXT, payment_method,
	locked_payment::TEXT, active, close_reason, created_at, closed_at`

func scanAd(row pgx.Row) (*model.Ad, error) {
	var ad model.Ad
	var id int64
	err := row.Scan(&id, &ad.Maker, &ad.IsBuy, &ad.Asset,
		num{&ad.OriginalAmount}, num{&ad.AmountRemaining}, &ad.PaymentAsset,
		num{&ad.UnitPrice}, num{&ad.MinOrderAmount}, &ad.PaymentMethod,
		num{&ad.LockedPayment}, &ad.Active, &ad.CloseReason, &ad.CreatedAt, &ad.ClosedAt)
	ad.ID = uint64(id)
	return &ad, err
}

func (t *pgTx) GetAd(id uint64) (*model.Ad, error) {
	ad, err := scanAd(t.tx.QueryRow(t.ctx, `SELECT `+adColumns+` FROM ads WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("ad %d", id))
	}
	return ad, nil
}

func (t *pgTx) PutAd(ad *model.Ad) error {
	return t.exec(
		`INSERT INTO ads (id, maker, is_buy, asset, original_amount, amount_remaining, payment_asset,
		                  unit_price, min_order_amount, payment_method, locked_payment, active,
		                  close_reason, created_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC, $10,
		         $11::NUMERIC, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		     amount_remaining = EXCLUDED.amount_remaining,
		     locked_payment   = EXCLUDED.locked_payment,
		     active           = EXCLUDED.active,
		     close_reason     = EXCLUDED.close_reason,
		     closed_at        = EXCLUDED.closed_at`,
		int64(ad.ID), ad.Maker, ad.IsBuy, ad.Asset,
		ad.OriginalAmount.String(), ad.AmountRemaining.String(), ad.PaymentAsset,
		ad.UnitPrice.String(), ad.MinOrderAmount.String(), ad.PaymentMethod,
		ad.LockedPayment.String(), ad.Active, ad.CloseReason, ad.CreatedAt, ad.ClosedAt,
	)
}

func (t *pgTx) ListAds(f AdFilter) ([]model.Ad, error) {
	var where []string
	var args []any
	if f.Maker != "" {
		args = append(args, f.Maker)
		where = append(where, fmt.Sprintf("maker = $%d", len(args)))
	}
	if f.Asset != "" {
		args = append(args, f.Asset)
		where = append(where, fmt.Sprintf("asset = $%d", len(args)))
	}
	if f.PaymentAsset != "" {
		args = append(args, f.PaymentAsset)
		where = append(where, fmt.Sprintf("payment_asset = $%d", len(args)))
	}
	if f.PaymentMethod != "" {
		args = append(args, f.PaymentMethod)
		where = append(where, fmt.Sprintf("lower(payment_method) = lower($%d)", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.IsBuy != nil {
		args = append(args, *f.IsBuy)
		where = append(where, fmt.Sprintf("is_buy = $%d", len(args)))
	}
	sql := `SELECT ` + adColumns + ` FROM ads`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := t.tx.Query(t.ctx, sql+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ads []model.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, *ad)
	}
	return ads, rows.Err()
}

// --- Orders ---

const orderColumns = `id, ad_id, buyer, seller, asset, payment_asset,
	amount::TEXT, payment_amount::TEXT, asset_locked::TEXT, payment_locked::TEXT,
	status, resolution, dispute_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var id, adID int64
	var status, resolution string
	err := row.Scan(&id, &adID, &o.Buyer, &o.Seller, &o.Asset, &o.PaymentAsset,
		num{&o.Amount}, num{&o.PaymentAmount}, num{&o.AssetLocked}, num{&o.PaymentLocked},
		&status, &resolution, &o.DisputeReason, &o.CreatedAt, &o.UpdatedAt)
	o.ID, o.AdID = uint64(id), uint64(adID)
	o.Status, o.Resolution = model.OrderStatus(status), model.Party(resolution)
	return &o, err
}

func (t *pgTx) GetOrder(id uint64) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(t.ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("order %d", id))
	}
	return o, nil
}

func (t *pgTx) PutOrder(o *model.Order) error {
	return t.exec(
		`INSERT INTO orders (id, ad_id, buyer, seller, asset, payment_asset, amount, payment_amount,
		                     asset_locked, payment_locked, status, resolution, dispute_reason,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		     asset_locked   = EXCLUDED.asset_locked,
		     payment_locked = EXCLUDED.payment_locked,
		     status         = EXCLUDED.status,
		     resolution     = EXCLUDED.resolution,
		     dispute_reason = EXCLUDED.dispute_reason,
		     updated_at     = EXCLUDED.updated_at`,
		int64(o.ID), int64(o.AdID), o.Buyer, o.Seller, o.Asset, o.PaymentAsset,
		o.Amount.String(), o.PaymentAmount.String(), o.AssetLocked.String(), o.PaymentLocked.String(),
		string(o.Status), string(o.Resolution), o.DisputeReason, o.CreatedAt, o.UpdatedAt,
	)
}

func (t *pgTx) ListOrders(f OrderFilter) ([]model.Order, error) {
	var where []string
	var args []any
	if f.AdID != 0 {
		args = append(args, int64(f.AdID))
		where = append(where, fmt.Sprintf("ad_id = $%d", len(args)))
	}
	if f.Party != "" {
		args = append(args, f.Party)
		where = append(where, fmt.Sprintf("(buyer = $%d OR seller = $%d)", len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.OpenOnly {
		args = append(args, string(model.OrderReleased))
		where = append(where, fmt.Sprintf("status <> $%d", len(args)))
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := t.tx.Query(t.ctx, sql+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// --- Balances ---

func (t *pgTx) GetBalance(account, asset string) (model.Balance, error) {
	b := model.Balance{Account: account, Asset: asset}
	err := t.tx.QueryRow(t.ctx,
		`SELECT available::TEXT, locked::TEXT FROM balances WHERE account = $1 AND asset = $2`,
		account, asset).Scan(num{&b.Available}, num{&b.Locked})
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	return b, err
}

func (t *pgTx) PutBalance(b model.Balance) error {
	return t.exec(
		`INSERT INTO balances (account, asset, available, locked)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (account, asset) DO UPDATE SET available = EXCLUDED.available, locked = EXCLUDED.locked`,
		b.Account, b.Asset, b.Available.String(), b.Locked.String())
}

func (t *pgTx) ListBalances(account string) ([]model.Balance, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT asset, available::TEXT, locked::TEXT FROM balances WHERE account = $1 ORDER BY asset`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Balance
	for rows.Next() {
		b := model.Balance{Account: account}
		if err := rows.Scan(&b.Asset, num{&b.Available}, num{&b.Locked}); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) GetLockedTotal(asset string) (fixed.Amount, error) {
	var total fixed.Amount
	err := t.tx.QueryRow(t.ctx, `SELECT locked::TEXT FROM escrow_totals WHERE asset = $1`, asset).Scan(num{&total})
	if errors.Is(err, pgx.ErrNoRows) {
		return fixed.Zero, nil
	}
	return total, err
}

func (t *pgTx) PutLockedTotal(asset string, total fixed.Amount) error {
	return t.exec(
		`INSERT INTO escrow_totals (asset, locked) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (asset) DO UPDATE SET locked = EXCLUDED.locked`,
		asset, total.String())
}

func (t *pgTx) ListLockedTotals() (map[string]fixed.Amount, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT asset, locked::TEXT FROM escrow_totals`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fixed.Amount)
	for rows.Next() {
		var asset string
		var total fixed.Amount
		if err := rows.Scan(&asset, num{&total}); err != nil {
			return nil, err
		}
		out[asset] = total
	}
	return out, rows.Err()
}

// --- Rewards ---

func (t *pgTx) GetShareholder(holder string) (model.Shareholder, error) {
	sh := model.Shareholder{Holder: holder}
	err := t.tx.QueryRow(t.ctx,
		`SELECT shares::TEXT, total_excluded::TEXT, total_realised::TEXT, carried::TEXT, updated_at
		 FROM shareholders WHERE holder = $1`, holder).
		Scan(num{&sh.Shares}, num{&sh.TotalExcluded}, num{&sh.TotalRealised}, num{&sh.Carried}, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sh, nil
	}
	return sh, err
}

func (t *pgTx) PutShareholder(sh model.Shareholder) error {
	return t.exec(
		`INSERT INTO shareholders (holder, shares, total_excluded, total_realised, carried, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (holder) DO UPDATE SET
		     shares = EXCLUDED.shares, total_excluded = EXCLUDED.total_excluded,
		     total_realised = EXCLUDED.total_realised, carried = EXCLUDED.carried,
		     updated_at = EXCLUDED.updated_at`,
		sh.Holder, sh.Shares.String(), sh.TotalExcluded.String(), sh.TotalRealised.String(),
		sh.Carried.String(), sh.UpdatedAt)
}

func (t *pgTx) ListShareholders() ([]model.Shareholder, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT holder, shares::TEXT, total_excluded::TEXT, total_realised::TEXT, carried::TEXT, updated_at
		 FROM shareholders ORDER BY holder`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Shareholder
	for rows.Next() {
		var sh model.Shareholder
		if err := rows.Scan(&sh.Holder, num{&sh.Shares}, num{&sh.TotalExcluded},
			num{&sh.TotalRealised}, num{&sh.Carried}, &sh.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (t *pgTx) GetDistributor() (model.DistributorState, error) {
	var st model.DistributorState
	err := t.tx.QueryRow(t.ctx,
		`SELECT total_shares::TEXT, dividends_per_share::TEXT, total_dividends::TEXT, total_distributed::TEXT
		 FROM distributor WHERE id = 1`).
		Scan(num{&st.TotalShares}, num{&st.DividendsPerShare}, num{&st.TotalDividends}, num{&st.TotalDistributed})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DistributorState{}, nil
	}
	return st, err
}

func (t *pgTx) PutDistributor(st model.DistributorState) error {
	return t.exec(
		`INSERT INTO distributor (id, total_shares, dividends_per_share, total_dividends, total_distributed)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     total_shares = EXCLUDED.total_shares, dividends_per_share = EXCLUDED.dividends_per_share,
		     total_dividends = EXCLUDED.total_dividends, total_distributed = EXCLUDED.total_distributed`,
		st.TotalShares.String(), st.DividendsPerShare.String(), st.TotalDividends.String(), st.TotalDistributed.String())
}

// --- Settings, flags and rates ---

func (t *pgTx) GetSettings() (model.Settings, error) {
	var s model.Settings
	var doc []byte
	err := t.tx.QueryRow(t.ctx, `SELECT doc FROM engine_settings WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	return s, json.Unmarshal(doc, &s)
}

func (t *pgTx) PutSettings(s model.Settings) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return t.exec(
		`INSERT INTO engine_settings (id, doc) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, doc)
}

func (t *pgTx) GetFlags(account string) (model.AccountFlags, error) {
	f := model.AccountFlags{Account: account}
	err := t.tx.QueryRow(t.ctx,
		`SELECT excluded_from_rewards, excluded_from_dev_fees, excluded_from_holders_fees
		 FROM account_flags WHERE account = $1`, account).
		Scan(&f.ExcludedFromRewards, &f.ExcludedFromDevFees, &f.ExcludedFromHoldersFees)
	if errors.Is(err, pgx.ErrNoRows) {
		return f, nil
	}
	return f, err
}

func (t *pgTx) PutFlags(f model.AccountFlags) error {
	return t.exec(
		`INSERT INTO account_flags (account, excluded_from_rewards, excluded_from_dev_fees, excluded_from_holders_fees)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account) DO UPDATE SET
		     excluded_from_rewards = EXCLUDED.excluded_from_rewards,
		     excluded_from_dev_fees = EXCLUDED.excluded_from_dev_fees,
		     excluded_from_holders_fees = EXCLUDED.excluded_from_holders_fees`,
		f.Account, f.ExcludedFromRewards, f.ExcludedFromDevFees, f.ExcludedFromHoldersFees)
}

func (t *pgTx) GetRate(base, quote string) (*model.RateSnapshot, error) {
	r := model.RateSnapshot{Base: base, Quote: quote}
	var dec int16
	err := t.tx.QueryRow(t.ctx,
		`SELECT rate::TEXT, rate_decimals, updated_at FROM rates WHERE base = $1 AND quote = $2`,
		base, quote).Scan(num{&r.Rate}, &dec, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("rate %s/%s", base, quote))
	}
	r.RateDecimals = uint8(dec)
	return &r, nil
}

func (t *pgTx) PutRate(r model.RateSnapshot) error {
	return t.exec(
		`INSERT INTO rates (base, quote, rate, rate_decimals, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)
		 ON CONFLICT (base, quote) DO UPDATE SET
		     rate = EXCLUDED.rate, rate_decimals = EXCLUDED.rate_decimals, updated_at = EXCLUDED.updated_at`,
		r.Base, r.Quote, r.Rate.String(), int16(r.RateDecimals), r.UpdatedAt)
}

// --- Idempotency ---

func (t *pgTx) GetIdempotency(key string) (*model.IdempotencyRecord, error) {
	rec := model.IdempotencyRecord{Key: key}
	var status int32
	err := t.tx.QueryRow(t.ctx,
		`SELECT operation, caller, status, response, created_at FROM idempotency_keys WHERE key = $1`, key).
		Scan(&rec.Operation, &rec.Caller, &status, &rec.Response, &rec.CreatedAt)
	if err != nil {
		return nil, notFound(err, "idempotency key "+key)
	}
	rec.Status = int(status)
	return &rec, nil
}

func (t *pgTx) PutIdempotency(r model.IdempotencyRecord) error {
	return t.exec(
		`INSERT INTO idempotency_keys (key, operation, caller, status, response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.Key, r.Operation, r.Caller, int32(r.Status), r.Response, r.CreatedAt)
}

// --- Events ---

func (t *pgTx) AppendEvent(e *model.Event) error {
	seq, err := t.NextID(SeqEvent)
	if err != nil {
		return err
	}
	e.Seq = seq
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return err
	}
	return t.exec(
		`INSERT INTO events (seq, id, type, attributes, time) VALUES ($1, $2, $3, $4, $5)`,
		int64(seq), e.ID, e.Type, attrs, e.Time)
}

func (t *pgTx) ListEvents(after uint64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := t.tx.Query(t.ctx,
		`SELECT seq, id, type, attributes, time FROM events WHERE seq > $1 ORDER BY seq LIMIT $2`,
		int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var seq int64
		var attrs []byte
		var ts time.Time
		if err := rows.Scan(&seq, &e.ID, &e.Type, &attrs, &ts); err != nil {
			return nil, err
		}
		e.Seq, e.Time = uint64(seq), ts
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
