package promo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dental-quote/internal/pricing"
)

func TestDefaultTableResolvesEachKind(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)
	ctx := context.Background()

	rule, err := table.Resolve(ctx, "SMILE50", nil)
	require.NoError(t, err)
	require.Equal(t, pricing.KindPercentage, rule.Kind)
	require.EqualValues(t, 5000, rule.PercentBps)

	rule, err = table.Resolve(ctx, "SAVE100", nil)
	require.NoError(t, err)
	require.Equal(t, pricing.KindFixedAmount, rule.Kind)
	require.EqualValues(t, 10000, rule.Amount)

	rule, err = table.Resolve(ctx, "SMILEMAKEOVER", nil)
	require.NoError(t, err)
	require.True(t, rule.IsPackage())
	require.EqualValues(t, 280000, rule.Package.PackagePrice)
	require.EqualValues(t, 425000, rule.Package.OriginalPrice)
	require.Len(t, rule.Package.Lines, 4)
}

func TestTableNormalizesInput(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	for _, code := range []string{"smile50", "  Smile50 ", "SMILE50\t"} {
		rule, err := table.Resolve(context.Background(), code, nil)
		require.NoError(t, err, code)
		require.Equal(t, "SMILE50", rule.Code)
	}
}

func TestTableNormalizesStoredCodes(t *testing.T) {
	table, err := LoadTable(strings.NewReader(`
codes:
  - code: " spring15 "
    type: percent
    percent: 15
`))
	require.NoError(t, err)

	rule, err := table.Resolve(context.Background(), "SPRING15", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1500, rule.PercentBps)
}

func TestTableUnknownCode(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	_, err = table.Resolve(context.Background(), "NOTREAL", nil)
	require.ErrorIs(t, err, ErrInvalidCode)
	require.NotErrorIs(t, err, ErrResolverUnavailable)

	_, err = table.Resolve(context.Background(), "   ", nil)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestTableHonoursValidityWindow(t *testing.T) {
	table, err := LoadTable(strings.NewReader(`
codes:
  - code: SUMMER
    type: fixed_amount
    amount: 5000
    validFrom: 2026-06-01T00:00:00Z
    validTo: 2026-08-31T23:59:59Z
`))
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	table.Now = func() time.Time { return now }

	_, err = table.Resolve(context.Background(), "summer", nil)
	require.ErrorIs(t, err, ErrInvalidCode)

	now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	rule, err := table.Resolve(context.Background(), "summer", nil)
	require.NoError(t, err)
	require.EqualValues(t, 5000, rule.Amount)

	now = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err = table.Resolve(context.Background(), "summer", nil)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestLoadTableRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"duplicate": `
codes:
  - {code: A, type: percentage, percent: 10}
  - {code: a, type: percentage, percent: 20}
`,
		"percent over 100": `
codes:
  - {code: A, type: percentage, percent: 120}
`,
		"negative amount": `
codes:
  - {code: A, type: fixed_amount, amount: -1}
`,
		"package without lines": `
codes:
  - code: A
    type: package
    package: {name: Empty, packagePrice: 10, originalPrice: 20}
`,
		"unknown type": `
codes:
  - {code: A, type: bogof}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestResolvedPackageIsIsolated(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	first, err := table.Resolve(context.Background(), "IMPLANTTRIO", nil)
	require.NoError(t, err)
	first.Package.Lines[0].Quantity = 99

	second, err := table.Resolve(context.Background(), "IMPLANTTRIO", nil)
	require.NoError(t, err)
	require.Equal(t, 3, second.Package.Lines[0].Quantity)
}

func TestPackagesSortedByPrice(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	pkgs := table.Packages()
	require.Len(t, pkgs, 2)
	require.Equal(t, "SMILEMAKEOVER", pkgs[0].Code)
	require.Equal(t, "IMPLANTTRIO", pkgs[1].Code)
}

func TestChainFallsThroughOnlyOnInvalid(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	var remoteCalls int
	remote := ResolverFunc(func(_ context.Context, code string, _ []string) (pricing.Rule, error) {
		remoteCalls++
		if NormalizeCode(code) == "PARTNER20" {
			return pricing.Percentage("PARTNER20", 2000), nil
		}
		return pricing.Rule{}, ErrResolverUnavailable
	})
	chain := Chain{table, remote}

	rule, err := chain.Resolve(context.Background(), "smile50", nil)
	require.NoError(t, err)
	require.EqualValues(t, 5000, rule.PercentBps)
	require.Zero(t, remoteCalls)

	rule, err = chain.Resolve(context.Background(), "partner20", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2000, rule.PercentBps)

	_, err = chain.Resolve(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrResolverUnavailable)
	require.Equal(t, 2, remoteCalls)

	_, err = Chain{}.Resolve(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrInvalidCode)
}
