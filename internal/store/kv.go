package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/model"
)

// kv is the minimal ordered key-value surface shared by the memory and
// LevelDB stores. Entities are stored as JSON under the keys below.
type kv interface {
	get(key string) ([]byte, bool, error)
	put(key string, val []byte) error
	// scan visits keys with the given prefix that are >= start, ascending.
	// Returning errStopScan from fn ends the scan without error.
	scan(prefix, start string, fn func(key string, val []byte) error) error
}

var errStopScan = errors.New("store: stop scan")

func seqKey(name string) string            { return "seq/" + name }
func adKey(id uint64) string               { return fmt.Sprintf("ad/%020d", id) }
func orderKey(id uint64) string            { return fmt.Sprintf("order/%020d", id) }
func balanceKey(acct, asset string) string { return fmt.Sprintf("bal/%s/%s", acct, asset) }
func lockedKey(asset string) string        { return "locked/" + asset }
func shareholderKey(h string) string       { return "sh/" + h }
func flagsKey(acct string) string          { return "flags/" + acct }
func rateKey(base, quote string) string    { return fmt.Sprintf("rate/%s/%s", base, quote) }
func idemKey(key string) string            { return "idem/" + key }
func eventKey(seq uint64) string           { return fmt.Sprintf("evt/%020d", seq) }

const (
	distributorKey = "dist"
	settingsKey    = "settings"
)

// kvTx implements Tx on top of a kv.
type kvTx struct {
	ctx      context.Context
	kv       kv
	readOnly bool
}

func (t *kvTx) Context() context.Context { return t.ctx }

func (t *kvTx) load(key string, dst any) (bool, error) {
	raw, ok, err := t.kv.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *kvTx) save(key string, v any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return t.kv.put(key, raw)
}

func (t *kvTx) NextID(seq string) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	var next uint64 = 1
	raw, ok, err := t.kv.get(seqKey(seq))
	if err != nil {
		return 0, err
	}
	if ok {
		last, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("store: corrupt sequence %s: %w", seq, err)
		}
		next = last + 1
	}
	if err := t.kv.put(seqKey(seq), []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *kvTx) GetAd(id uint64) (*model.Ad, error) {
	var ad model.Ad
	ok, err := t.load(adKey(id), &ad)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ad %d: %w", id, ErrNotFound)
	}
	return &ad, nil
}

func (t *kvTx) PutAd(ad *model.Ad) error { return t.save(adKey(ad.ID), ad) }

func (t *kvTx) ListAds(f AdFilter) ([]model.Ad, error) {
	var ads []model.Ad
	err := t.kv.scan("ad/", "", func(_ string, raw []byte) error {
		var ad model.Ad
		if err := json.Unmarshal(raw, &ad); err != nil {
			return err
		}
		if f.Match(&ad) {
			ads = append(ads, ad)
		}
		return nil
	})
	return ads, err
}

func (t *kvTx) GetOrder(id uint64) (*model.Order, error) {
	var o model.Order
	ok, err := t.load(orderKey(id), &o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return &o, nil
}

func (t *kvTx) PutOrder(o *model.Order) error { return t.save(orderKey(o.ID), o) }

func (t *kvTx) ListOrders(f OrderFilter) ([]model.Order, error) {
	var orders []model.Order
	err := t.kv.scan("order/", "", func(_ string, raw []byte) error {
		var o model.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		if f.Match(&o) {
			orders = append(orders, o)
		}
		return nil
	})
	return orders, err
}

func (t *kvTx) GetBalance(account, asset string) (model.Balance, error) {
	b := model.Balance{Account: account, Asset: asset}
	_, err := t.load(balanceKey(account, asset), &b)
	return b, err
}

func (t *kvTx) PutBalance(b model.Balance) error {
	return t.save(balanceKey(b.Account, b.Asset), b)
}

func (t *kvTx) ListBalances(account string) ([]model.Balance, error) {
	var out []model.Balance
	err := t.kv.scan("bal/"+account+"/", "", func(_ string, raw []byte) error {
		var b model.Balance
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

func (t *kvTx) GetLockedTotal(asset string) (fixed.Amount, error) {
	var total fixed.Amount
	_, err := t.load(lockedKey(asset), &total)
	return total, err
}

func (t *kvTx) PutLockedTotal(asset string, total fixed.Amount) error {
	return t.save(lockedKey(asset), total)
}

func (t *kvTx) ListLockedTotals() (map[string]fixed.Amount, error) {
	out := make(map[string]fixed.Amount)
	err := t.kv.scan("locked/", "", func(key string, raw []byte) error {
		var total fixed.Amount
		if err := json.Unmarshal(raw, &total); err != nil {
			return err
		}
		out[key[len("locked/"):]] = total
		return nil
	})
	return out, err
}

func (t *kvTx) GetShareholder(holder string) (model.Shareholder, error) {
	sh := model.Shareholder{Holder: holder}
	_, err := t.load(shareholderKey(holder), &sh)
	return sh, err
}

func (t *kvTx) PutShareholder(sh model.Shareholder) error {
	return t.save(shareholderKey(sh.Holder), sh)
}

func (t *kvTx) ListShareholders() ([]model.Shareholder, error) {
	var out []model.Shareholder
	err := t.kv.scan("sh/", "", func(_ string, raw []byte) error {
		var sh model.Shareholder
		if err := json.Unmarshal(raw, &sh); err != nil {
			return err
		}
		out = append(out, sh)
		return nil
	})
	return out, err
}

func (t *kvTx) GetDistributor() (model.DistributorState, error) {
	var st model.DistributorState
	_, err := t.load(distributorKey, &st)
	return st, err
}

func (t *kvTx) PutDistributor(st model.DistributorState) error {
	return t.save(distributorKey, st)
}

func (t *kvTx) GetSettings() (model.Settings, error) {
	var s model.Settings
	_, err := t.load(settingsKey, &s)
	return s, err
}

func (t *kvTx) PutSettings(s model.Settings) error { return t.save(settingsKey, s) }

func (t *kvTx) GetFlags(account string) (model.AccountFlags, error) {
	f := model.AccountFlags{Account: account}
	_, err := t.load(flagsKey(account), &f)
	return f, err
}

func (t *kvTx) PutFlags(f model.AccountFlags) error { return t.save(flagsKey(f.Account), f) }

func (t *kvTx) GetRate(base, quote string) (*model.RateSnapshot, error) {
	var r model.RateSnapshot
	ok, err := t.load(rateKey(base, quote), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rate %s/%s: %w", base, quote, ErrNotFound)
	}
	return &r, nil
}

func (t *kvTx) PutRate(r model.RateSnapshot) error { return t.save(rateKey(r.Base, r.Quote), r) }

func (t *kvTx) GetIdempotency(key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	ok, err := t.load(idemKey(key), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	return &rec, nil
}

func (t *kvTx) PutIdempotency(r model.IdempotencyRecord) error {
	return t.save(idemKey(r.Key), r)
}

func (t *kvTx) AppendEvent(e *model.Event) error {
	seq, err := t.NextID(SeqEvent)
	if err != nil {
		return err
	}
	e.Seq = seq
	return t.save(eventKey(seq), e)
}

func (t *kvTx) ListEvents(after uint64, limit int) ([]model.Event, error) {
	var out []model.Event
	err := t.kv.scan("evt/", eventKey(after+1), func(_ string, raw []byte) error {
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
