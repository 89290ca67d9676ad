// Package audit periodically cross-checks escrow and reward accounting
// against the records that imply them and exports the results as metrics.
package audit

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/firemarket/escrow-engine/internal/escrow"
	"github.com/firemarket/escrow-engine/internal/fixed"
	"github.com/firemarket/escrow-engine/internal/metrics"
	"github.com/firemarket/escrow-engine/internal/model"
	"github.com/firemarket/escrow-engine/internal/rewards"
	"github.com/firemarket/escrow-engine/internal/store"
)

// Report is the outcome of one audit pass.
type Report struct {
	RanAt       time.Time              `json:"ran_at"`
	Assets      []escrow.AssetSolvency `json:"assets"`
	Distributor model.DistributorState `json:"distributor"`
	ActiveAds   int                    `json:"active_ads"`
	OpenOrders  int                    `json:"open_orders"`
	Healthy     bool                   `json:"healthy"`
}

// Auditor runs audit passes on demand or on a cron schedule.
type Auditor struct {
	st     store.Store
	market *escrow.Market
	dist   *rewards.Distributor
	now    func() time.Time

	mu   sync.RWMutex
	last *Report
	cron *cron.Cron
}

// New returns an Auditor reading through st.
func New(st store.Store, market *escrow.Market, dist *rewards.Distributor) *Auditor {
	return &Auditor{st: st, market: market, dist: dist, now: func() time.Time { return time.Now().UTC() }}
}

// Run performs one pass against a consistent snapshot.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RanAt: a.now(), Healthy: true}
	err := a.st.View(ctx, func(tx store.Tx) error {
		var err error
		if rep.Assets, err = a.market.Solvency(tx); err != nil {
			return err
		}
		if rep.Distributor, err = a.dist.State(tx); err != nil {
			return err
		}
		ads, err := tx.ListAds(store.AdFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		orders, err := tx.ListOrders(store.OrderFilter{OpenOnly: true})
		if err != nil {
			return err
		}
		rep.ActiveAds, rep.OpenOrders = len(ads), len(orders)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, s := range rep.Assets {
		metrics.LockedTotal.WithLabelValues(s.Asset).Set(approx(s.Recorded))
		if !s.OK() {
			rep.Healthy = false
			metrics.SolvencyMismatches.WithLabelValues(s.Asset).Inc()
			slog.Error("escrow solvency mismatch",
				"asset", s.Asset,
				"recorded", s.Recorded.String(),
				"expected", s.Expected.String(),
			)
		}
	}
	d := rep.Distributor
	if d.TotalDistributed.Gt(d.TotalDividends) {
		rep.Healthy = false
		metrics.SolvencyMismatches.WithLabelValues("rewards").Inc()
		slog.Error("distributor paid out more than deposited",
			"total_distributed", d.TotalDistributed.String(),
			"total_dividends", d.TotalDividends.String(),
		)
	}
	metrics.ActiveAds.Set(float64(rep.ActiveAds))
	metrics.OpenOrders.Set(float64(rep.OpenOrders))
	metrics.DividendsDistributed.Set(approx(d.TotalDistributed))
	metrics.AuditRuns.Inc()

	a.mu.Lock()
	a.last = rep
	a.mu.Unlock()
	return rep, nil
}

// Last returns the most recent report, or nil before the first pass.
func (a *Auditor) Last() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Start schedules Run with a cron spec such as "@every 1m".
func (a *Auditor) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := a.Run(ctx); err != nil {
			slog.Error("audit pass failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	a.cron = c
	slog.Info("solvency audit scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running pass.
func (a *Auditor) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

func approx(v fixed.Amount) float64 {
	f, _ := new(big.Float).SetInt(v.Big()).Float64()
	return f
}
