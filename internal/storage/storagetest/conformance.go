// Package storagetest holds a behavioral test suite every storage backend
// must pass. Backend packages call Run from their own tests with a fresh,
// empty database.
package storagetest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradeetl/internal/storage"
)

// SampleSource returns a small export_th fixture spanning two years.
func SampleSource() []storage.SourceRecord {
	return []storage.SourceRecord{
		{Country: "Japan", HS2Code: 1, HS2Description: "Live animals", HS4Code: 101, HS4Description: "Horses",
			ThaipValue: "1,234.56", DollarValue: "35.10", Size: "KG", Month: "1", Year: "2023"},
		{Country: "Japan", HS2Code: 2, HS2Description: "Meat", HS4Code: 201, HS4Description: "Beef",
			ThaipValue: "100", DollarValue: "3", Size: "KG", Month: "2", Year: "2023"},
		{Country: "China", HS2Code: 1, HS2Description: "Live animals", HS4Code: 102, HS4Description: "Bovine",
			ThaipValue: "50.5", DollarValue: "1.5", Size: "T", Month: "2", Year: "2023"},
		{Country: "Laos", HS2Code: 3, HS2Description: "Fish", HS4Code: 301, HS4Description: "Live fish",
			ThaipValue: "10", DollarValue: "0.3", Size: "KG", Month: "7", Year: "2022"},
	}
}

// Run exercises the full storage.Repository contract against repo.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.EnsureTables(ctx))
	require.NoError(t, repo.EnsureTables(ctx), "EnsureTables must be idempotent")

	n, err := repo.InsertSource(ctx, SampleSource())
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	t.Run("source", func(t *testing.T) {
		total, err := repo.CountSource(ctx, storage.ForYear(2023))
		require.NoError(t, err)
		require.EqualValues(t, 3, total)

		all, err := repo.CountSource(ctx, storage.AllYears())
		require.NoError(t, err)
		require.EqualValues(t, 4, all)

		var streamed []storage.SourceRecord
		require.NoError(t, repo.StreamSource(ctx, storage.ForYear(2023), func(r storage.SourceRecord) error {
			streamed = append(streamed, r)
			return nil
		}))
		require.Len(t, streamed, 3)
		require.Equal(t, "1,234.56", streamed[0].ThaipValue)
		require.Equal(t, 101, streamed[0].HS4Code)

		p1, err := repo.PageSource(ctx, storage.ForYear(2023), 0, 2)
		require.NoError(t, err)
		p2, err := repo.PageSource(ctx, storage.ForYear(2023), 2, 2)
		require.NoError(t, err)
		require.Len(t, p1, 2)
		require.Len(t, p2, 1)
		require.NotEqual(t, p1[1].ID, p2[0].ID)

		years, err := repo.SourceYears(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"2022", "2023"}, years)
	})

	t.Run("dimensions", func(t *testing.T) {
		dims := []storage.Dimension{
			{Kind: storage.DimHS2, Code: 1, Label: "Live animals"},
			{Kind: storage.DimHS2, Code: 2, Label: "Meat"},
		}
		n, err := repo.InsertDimensions(ctx, storage.DimHS2, dims)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		_, err = repo.InsertDimensions(ctx, storage.DimHS2, dims[:1])
		require.NoError(t, err, "duplicate dimension insert must be skipped, not fail")

		got, err := repo.LoadDimensions(ctx, storage.DimHS2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "Live animals", got[0].Label)
		require.Equal(t, storage.DimHS2, got[0].Kind)

		ok, err := repo.DimensionExists(ctx, storage.DimHS2, dims[1])
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.DimensionExists(ctx, storage.DimHS2, storage.Dimension{Code: 2, Label: "Fish"})
		require.NoError(t, err)
		require.False(t, ok)

		_, err = repo.InsertDimensions(ctx, storage.DimCountry, []storage.Dimension{{Kind: storage.DimCountry, Label: "Japan"}})
		require.NoError(t, err)
		c, err := repo.CountDimension(ctx, storage.DimCountry)
		require.NoError(t, err)
		require.EqualValues(t, 1, c)
	})

	t.Run("facts_and_reports", func(t *testing.T) {
		countries, err := repo.LoadDimensions(ctx, storage.DimCountry)
		require.NoError(t, err)
		hs2, err := repo.LoadDimensions(ctx, storage.DimHS2)
		require.NoError(t, err)

		cid, h2 := countries[0].ID, hs2[0].ID
		facts := []storage.FactRecord{
			{CountryID: &cid, HS2ID: &h2, ThaipValue: decimal.RequireFromString("1234.56"),
				DollarValue: decimal.RequireFromString("35.10"), Size: "KG", Month: 1, Year: 2023},
			{CountryID: &cid, ThaipValue: decimal.RequireFromString("100"),
				DollarValue: decimal.RequireFromString("3"), Size: "KG", Month: 2, Year: 2023},
			{ThaipValue: decimal.RequireFromString("10"), DollarValue: decimal.RequireFromString("0.30"),
				Month: 7, Year: 2022},
		}
		n, err := repo.InsertFacts(ctx, facts)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		y := 2023
		c, err := repo.CountFacts(ctx, &y)
		require.NoError(t, err)
		require.EqualValues(t, 2, c)

		totals, err := repo.FactTotals(ctx, 2023, nil)
		require.NoError(t, err)
		require.EqualValues(t, 2, totals.RecordCount)
		require.True(t, totals.TotalThaipValue.Equal(decimal.RequireFromString("1334.56")), totals.TotalThaipValue.String())

		page, err := repo.FactDetails(ctx, storage.FactQuery{Year: &y, Size: 1})
		require.NoError(t, err)
		require.EqualValues(t, 2, page.TotalElements)
		require.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Content, 1)
		require.Equal(t, "Japan", page.Content[0].Country)
		require.Equal(t, "1", page.Content[0].HS2Code)
		require.Equal(t, "", page.Content[0].HS4Code)

		top, err := repo.TopCountries(ctx, 2023, 5)
		require.NoError(t, err)
		require.Len(t, top, 1)
		require.Equal(t, "Japan", top[0].Label)
		require.EqualValues(t, 2, top[0].RecordCount)

		topHS2, err := repo.TopHS2(ctx, 2023, 5)
		require.NoError(t, err)
		require.Len(t, topHS2, 1)

		sum, err := repo.FactSummary(ctx, 2023, nil, 10)
		require.NoError(t, err)
		require.Len(t, sum, 2)
	})

	t.Run("maintenance", func(t *testing.T) {
		m, err := repo.Maintenance(ctx)
		require.NoError(t, err)

		require.NoError(t, m.InTx(ctx, func(ctx context.Context, w storage.Wiper) error {
			n, err := w.DeleteFactsByYear(ctx, 2022)
			require.EqualValues(t, 1, n)
			return err
		}))

		require.NoError(t, m.InTx(ctx, func(ctx context.Context, w storage.Wiper) error {
			ids, err := w.UnreferencedIDs(ctx, storage.DimHS2)
			require.NoError(t, err)
			require.Len(t, ids, 1, "Meat is referenced by no fact")
			_, err = w.DeleteDimensions(ctx, storage.DimHS2, ids)
			return err
		}))

		require.NoError(t, m.SetIntegrity(ctx, false))
		require.NoError(t, m.InTx(ctx, func(ctx context.Context, w storage.Wiper) error {
			// Dimensions first: only legal with integrity off.
			for _, table := range []string{storage.TableCountry, storage.TableHS2, storage.TableHS4, storage.TableFact} {
				if _, err := w.DeleteAll(ctx, table); err != nil {
					return err
				}
			}
			return nil
		}))
		require.NoError(t, m.SetIntegrity(ctx, true))
		require.NoError(t, m.Close())

		for _, k := range storage.DimensionKinds {
			c, err := repo.CountDimension(ctx, k)
			require.NoError(t, err)
			require.Zero(t, c, k.String())
		}
		c, err := repo.CountFacts(ctx, nil)
		require.NoError(t, err)
		require.Zero(t, c)

		missing := int64(987654)
		_, err = repo.InsertFacts(ctx, []storage.FactRecord{{CountryID: &missing, Month: 1, Year: 2023}})
		require.Error(t, err, "integrity must be enforced again after maintenance")
	})
}
