package quote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/pricing"
	"github.com/noah-isme/dental-quote/internal/promo"
)

const (
	crownID  = "zirconia-crown"   // 87500
	veneerID = "porcelain-veneer" // 65000
)

func newTestAggregate(t *testing.T) (*Aggregate, *catalog.Catalog, *promo.Table) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	table, err := promo.DefaultTable()
	require.NoError(t, err)
	return New(cat, table), cat, table
}

func totals(sub, disc, total pricing.Money) pricing.Totals {
	return pricing.Totals{Subtotal: sub, Discount: disc, Total: total}
}

func mustJSON(t *testing.T, v View) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func requireInvariants(t *testing.T, v View) {
	t.Helper()
	require.LessOrEqual(t, v.Totals.Discount, v.Totals.Subtotal)
	require.GreaterOrEqual(t, v.Totals.Discount, int64(0))
	if v.Rule.IsPackage() {
		require.Equal(t, v.Rule.Package.PackagePrice, v.Totals.Total)
	} else {
		want := v.Totals.Subtotal - v.Totals.Discount
		if want < 0 {
			want = 0
		}
		require.Equal(t, want, v.Totals.Total)
	}
	seen := map[string]bool{}
	for _, l := range v.Lines {
		require.False(t, seen[l.TreatmentID], "duplicate line %s", l.TreatmentID)
		seen[l.TreatmentID] = true
	}
	require.Equal(t, v.Totals, pricing.Compute(v.Lines, v.Rule))
}

func TestScenarios(t *testing.T) {
	agg, _, _ := newTestAggregate(t)
	ctx := context.Background()

	v, err := agg.AddLine(crownID, 1)
	require.NoError(t, err)
	require.Equal(t, totals(87500, 0, 87500), v.Totals)

	v, err = agg.ApplyCode(ctx, "SMILE50")
	require.NoError(t, err)
	require.Equal(t, totals(87500, 43750, 43750), v.Totals)

	v, err = agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	require.Equal(t, totals(152500, 76250, 76250), v.Totals)
	requireInvariants(t, v)

	scenario3 := mustJSON(t, agg.View())
	v, err = agg.ApplyCode(ctx, "NOTREAL")
	require.ErrorIs(t, err, promo.ErrInvalidCode)
	require.Equal(t, totals(152500, 76250, 76250), v.Totals)
	require.Equal(t, scenario3, mustJSON(t, agg.View()))

	v, err = agg.ApplyCode(ctx, "save100")
	require.NoError(t, err)
	require.Equal(t, totals(152500, 10000, 142500), v.Totals)
	require.Equal(t, "SAVE100", v.Rule.Code)
	require.Len(t, v.Lines, 2)

	v, err = agg.ApplyCode(ctx, "SMILEMAKEOVER")
	require.NoError(t, err)
	require.Equal(t, totals(425000, 145000, 280000), v.Totals)
	require.Len(t, v.Lines, 4)
	require.Equal(t, crownID, v.Lines[0].TreatmentID)
	require.Equal(t, 4, v.Lines[0].Quantity)
	requireInvariants(t, v)
}

func TestRejectedMutationsLeaveStateUnchanged(t *testing.T) {
	unavailable := promo.ResolverFunc(func(context.Context, string, []string) (pricing.Rule, error) {
		return pricing.Rule{}, promo.ErrResolverUnavailable
	})
	cat, err := catalog.Default()
	require.NoError(t, err)
	table, err := promo.DefaultTable()
	require.NoError(t, err)

	agg := New(cat, table)
	_, err = agg.AddLine(crownID, 2)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "WELCOME10")
	require.NoError(t, err)
	before := mustJSON(t, agg.View())

	cases := map[string]struct {
		run  func() (View, error)
		want error
	}{
		"duplicate line":    {func() (View, error) { return agg.AddLine(crownID, 1) }, ErrDuplicateLine},
		"unknown treatment": {func() (View, error) { return agg.AddLine("gold-tooth", 1) }, catalog.ErrNotFound},
		"zero quantity add": {func() (View, error) { return agg.AddLine(veneerID, 0) }, ErrInvalidQuantity},
		"remove missing":    {func() (View, error) { return agg.RemoveLine(veneerID) }, ErrLineNotFound},
		"set missing":       {func() (View, error) { return agg.SetQuantity(veneerID, 2) }, ErrLineNotFound},
		"set zero":          {func() (View, error) { return agg.SetQuantity(crownID, 0) }, ErrInvalidQuantity},
		"set negative":      {func() (View, error) { return agg.SetQuantity(crownID, -3) }, ErrInvalidQuantity},
		"set too large":     {func() (View, error) { return agg.SetQuantity(crownID, pricing.MaxQuantity+1) }, ErrInvalidQuantity},
		"invalid code":      {func() (View, error) { return agg.ApplyCode(context.Background(), "NOTREAL") }, promo.ErrInvalidCode},
		"blank code":        {func() (View, error) { return agg.ApplyCode(context.Background(), "  ") }, promo.ErrInvalidCode},
		"resolver unavailable": {func() (View, error) {
			agg.resolver = unavailable
			defer func() { agg.resolver = table }()
			return agg.ApplyCode(context.Background(), "SMILE50")
		}, promo.ErrResolverUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := tc.run()
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, before, mustJSON(t, v))
			require.Equal(t, before, mustJSON(t, agg.View()))
		})
	}
}

func TestRemovingLastLineKeepsRule(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine(crownID, 1)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "SAVE100")
	require.NoError(t, err)

	v, err := agg.RemoveLine(crownID)
	require.NoError(t, err)
	require.Empty(t, v.Lines)
	require.Equal(t, pricing.KindFixedAmount, v.Rule.Kind)
	require.Equal(t, totals(0, 0, 0), v.Totals)

	v, err = agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	require.Equal(t, totals(65000, 10000, 55000), v.Totals)
}

func TestFixedAmountClampedToSubtotal(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine("consultation", 1)
	require.NoError(t, err)
	v, err := agg.ApplyCode(context.Background(), "FLIGHTS250")
	require.NoError(t, err)
	require.Equal(t, totals(5000, 5000, 0), v.Totals)
	requireInvariants(t, v)
}

func TestPackageLocksLines(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	v, err := agg.ApplyCode(context.Background(), "IMPLANTTRIO")
	require.NoError(t, err)
	require.Equal(t, totals(365000, 75000, 290000), v.Totals)
	before := mustJSON(t, v)

	_, err = agg.AddLine(veneerID, 1)
	require.ErrorIs(t, err, ErrPackageLocked)
	_, err = agg.RemoveLine("dental-implant")
	require.ErrorIs(t, err, ErrPackageLocked)
	_, err = agg.SetQuantity("dental-implant", 1)
	require.ErrorIs(t, err, ErrPackageLocked)
	require.Equal(t, before, mustJSON(t, agg.View()))

	v, err = agg.ClearRule()
	require.NoError(t, err)
	require.Empty(t, v.Lines)
	require.True(t, v.Rule.IsNone())
	require.Equal(t, totals(0, 0, 0), v.Totals)
}

func TestReplacingPackageDropsPackageLines(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.ApplyCode(context.Background(), "SMILEMAKEOVER")
	require.NoError(t, err)
	v, err := agg.ApplyCode(context.Background(), "SMILE50")
	require.NoError(t, err)
	require.Empty(t, v.Lines)
	require.Equal(t, pricing.KindPercentage, v.Rule.Kind)
	require.Equal(t, totals(0, 0, 0), v.Totals)
}

func TestClearRuleKeepsUserLines(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine(crownID, 1)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "SMILE50")
	require.NoError(t, err)

	v, err := agg.ClearRule()
	require.NoError(t, err)
	require.Len(t, v.Lines, 1)
	require.Equal(t, totals(87500, 0, 87500), v.Totals)
}

func TestResetEmptiesAggregate(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine(crownID, 1)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "SMILE50")
	require.NoError(t, err)

	v, err := agg.Reset()
	require.NoError(t, err)
	require.Empty(t, v.Lines)
	require.True(t, v.Rule.IsNone())
	require.Equal(t, totals(0, 0, 0), v.Totals)
}

func TestLargeQuantityDoesNotOverflow(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine("all-on-4", 1)
	require.NoError(t, err)
	v, err := agg.SetQuantity("all-on-4", pricing.MaxQuantity)
	require.NoError(t, err)
	require.EqualValues(t, int64(850000)*pricing.MaxQuantity, v.Totals.Subtotal)

	v, err = agg.ApplyCode(context.Background(), "SMILE50")
	require.NoError(t, err)
	require.EqualValues(t, int64(850000)*pricing.MaxQuantity/2, v.Totals.Total)
	requireInvariants(t, v)
}

func TestPriceSnapshottedAtAdd(t *testing.T) {
	cat, err := catalog.New("GBP", []catalog.Treatment{{ID: "x", Name: "X", UnitPrice: 1000}})
	require.NoError(t, err)
	agg := New(cat, nil)
	_, err = agg.AddLine("x", 2)
	require.NoError(t, err)

	agg.catalog, err = catalog.New("GBP", []catalog.Treatment{{ID: "x", Name: "X", UnitPrice: 9999}})
	require.NoError(t, err)
	v, err := agg.SetQuantity("x", 3)
	require.NoError(t, err)
	require.EqualValues(t, 3000, v.Totals.Subtotal)
}

func TestViewIsIsolatedFromAggregate(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.ApplyCode(context.Background(), "SMILEMAKEOVER")
	require.NoError(t, err)
	v := agg.View()
	v.Lines[0].Quantity = 42
	v.Rule.Package.Lines[0].Quantity = 42
	v.Rule.Package.PackagePrice = 1

	again := agg.View()
	require.Equal(t, 4, again.Lines[0].Quantity)
	require.Equal(t, 4, again.Rule.Package.Lines[0].Quantity)
	require.EqualValues(t, 280000, again.Totals.Total)
}

func TestViewIsStableWithoutMutation(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	_, err := agg.AddLine(crownID, 3)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "WELCOME10")
	require.NoError(t, err)
	require.Equal(t, mustJSON(t, agg.View()), mustJSON(t, agg.View()))
	v := agg.View()
	require.Equal(t, v.Totals, pricing.Compute(v.Lines, v.Rule))
}

func TestReplayYieldsSameTotals(t *testing.T) {
	run := func() View {
		agg, _, _ := newTestAggregate(t)
		_, _ = agg.AddLine(crownID, 1)
		_, _ = agg.ApplyCode(context.Background(), "WELCOME10")
		_, _ = agg.AddLine(veneerID, 3)
		_, _ = agg.SetQuantity(crownID, 2)
		_, _ = agg.RemoveLine(veneerID)
		v, _ := agg.AddLine("whitening", 1)
		return v
	}
	first := run()
	require.Equal(t, first.Totals, run().Totals)
	// (2*87500 + 25000) = 200000, 10% = 20000
	require.Equal(t, totals(200000, 20000, 180000), first.Totals)
}

type gate struct {
	started chan struct{}
	release chan struct{}
}

func newGate() gate {
	return gate{started: make(chan struct{}), release: make(chan struct{})}
}

func gatedResolver(t *testing.T, g gate, slowCode string, slowRule pricing.Rule) promo.Resolver {
	t.Helper()
	table, err := promo.DefaultTable()
	require.NoError(t, err)
	return promo.ResolverFunc(func(ctx context.Context, code string, ids []string) (pricing.Rule, error) {
		if code == slowCode {
			close(g.started)
			<-g.release
			return slowRule, nil
		}
		return table.Resolve(ctx, code, ids)
	})
}

func TestApplyCodeRecomputesAgainstLiveLines(t *testing.T) {
	g := newGate()
	cat, err := catalog.Default()
	require.NoError(t, err)
	agg := New(cat, gatedResolver(t, g, "SLOW50", pricing.Percentage("SLOW50", 5000)))

	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)

	done := make(chan View, 1)
	go func() {
		v, err := agg.ApplyCode(context.Background(), "slow50")
		if err != nil {
			t.Error(err)
		}
		done <- v
	}()
	<-g.started

	v, err := agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	require.Equal(t, totals(152500, 0, 152500), v.Totals)

	close(g.release)
	v = <-done
	require.Len(t, v.Lines, 2)
	require.Equal(t, totals(152500, 76250, 76250), v.Totals)
	require.Equal(t, v, agg.View())
}

func TestApplyCodeSupersededByClearRule(t *testing.T) {
	g := newGate()
	cat, err := catalog.Default()
	require.NoError(t, err)
	agg := New(cat, gatedResolver(t, g, "SLOW50", pricing.Percentage("SLOW50", 5000)))

	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := agg.ApplyCode(context.Background(), "SLOW50")
		errs <- err
	}()
	<-g.started
	cleared, err := agg.ClearRule()
	require.NoError(t, err)

	close(g.release)
	require.ErrorIs(t, <-errs, ErrSuperseded)
	require.Equal(t, mustJSON(t, cleared), mustJSON(t, agg.View()))
	require.True(t, agg.View().Rule.IsNone())
}

func TestApplyCodeSupersededByNewerApply(t *testing.T) {
	g := newGate()
	cat, err := catalog.Default()
	require.NoError(t, err)
	agg := New(cat, gatedResolver(t, g, "SLOW50", pricing.Percentage("SLOW50", 5000)))

	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := agg.ApplyCode(context.Background(), "SLOW50")
		errs <- err
	}()
	<-g.started
	v, err := agg.ApplyCode(context.Background(), "SAVE100")
	require.NoError(t, err)
	require.Equal(t, totals(87500, 10000, 77500), v.Totals)

	close(g.release)
	require.ErrorIs(t, <-errs, ErrSuperseded)
	require.Equal(t, "SAVE100", agg.View().Rule.Code)
}

func TestApplyCodeSupersededByReset(t *testing.T) {
	g := newGate()
	cat, err := catalog.Default()
	require.NoError(t, err)
	agg := New(cat, gatedResolver(t, g, "SLOW50", pricing.Percentage("SLOW50", 5000)))

	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := agg.ApplyCode(context.Background(), "SLOW50")
		errs <- err
	}()
	<-g.started
	_, err = agg.Reset()
	require.NoError(t, err)

	close(g.release)
	require.True(t, errors.Is(<-errs, ErrSuperseded))
	v := agg.View()
	require.Empty(t, v.Lines)
	require.True(t, v.Rule.IsNone())
}

func TestInvalidRuleFromResolverIsUnavailable(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	agg := New(cat, promo.ResolverFunc(func(context.Context, string, []string) (pricing.Rule, error) {
		return pricing.Percentage("BROKEN", 0), nil
	}))
	_, err = agg.ApplyCode(context.Background(), "BROKEN")
	require.ErrorIs(t, err, promo.ErrResolverUnavailable)

	agg = New(cat, promo.ResolverFunc(func(context.Context, string, []string) (pricing.Rule, error) {
		return pricing.NoRule(), nil
	}))
	_, err = agg.ApplyCode(context.Background(), "NOTHING")
	require.ErrorIs(t, err, promo.ErrInvalidCode)
}

func TestResolverReceivesTreatmentIDs(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	var got []string
	agg := New(cat, promo.ResolverFunc(func(_ context.Context, _ string, ids []string) (pricing.Rule, error) {
		got = ids
		return pricing.FixedAmount("X", 100), nil
	}))
	_, err = agg.AddLine(crownID, 1)
	require.NoError(t, err)
	_, err = agg.AddLine(veneerID, 1)
	require.NoError(t, err)
	_, err = agg.ApplyCode(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []string{crownID, veneerID}, got)
}

func TestSubscribeReceivesEveryCommittedView(t *testing.T) {
	agg, _, _ := newTestAggregate(t)

	var mu sync.Mutex
	var views []View
	unsubscribe := agg.Subscribe(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	})

	_, err := agg.AddLine(crownID, 1)
	require.NoError(t, err)
	_, err = agg.AddLine(crownID, 1)
	require.Error(t, err)
	_, err = agg.ApplyCode(context.Background(), "SMILE50")
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, views, 2)
	require.EqualValues(t, 1, views[0].Version)
	require.Equal(t, totals(87500, 43750, 43750), views[1].Totals)
	mu.Unlock()

	unsubscribe()
	_, err = agg.Reset()
	require.NoError(t, err)
	mu.Lock()
	require.Len(t, views, 2)
	mu.Unlock()
}

func TestConcurrentMutationsKeepInvariants(t *testing.T) {
	agg, cat, _ := newTestAggregate(t)
	ids := []string{}
	for _, tr := range cat.List() {
		ids = append(ids, tr.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := ids[(i+j)%len(ids)]
				switch j % 5 {
				case 0:
					_, _ = agg.AddLine(id, 1+j%3)
				case 1:
					_, _ = agg.SetQuantity(id, 2)
				case 2:
					_, _ = agg.ApplyCode(context.Background(), "WELCOME10")
				case 3:
					_, _ = agg.RemoveLine(id)
				case 4:
					if i == 0 {
						_, _ = agg.ClearRule()
					}
				}
				if v := agg.View(); v.Totals != pricing.Compute(v.Lines, v.Rule) || v.Totals.Discount > v.Totals.Subtotal {
					t.Errorf("inconsistent view %+v", v)
				}
			}
		}(i)
	}
	wg.Wait()
	requireInvariants(t, agg.View())
}
