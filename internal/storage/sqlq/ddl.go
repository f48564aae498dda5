package sqlq

import (
	"strings"

	"tradeetl/internal/storage"
)

// DDL returns the statements creating the source table, the three dimension
// tables and the fact table, in dependency order. Every statement is
// idempotent.
func DDL(d Dialect) []string {
	dimRef := func(kind storage.DimensionKind) string {
		return d.BigInt + " NULL REFERENCES " + kind.Table() + " (" + kind.IDColumn() + ")"
	}

	return []string{
		d.CreateTable(storage.TableSource, join(
			"id "+d.IdentityPK,
			"country "+d.Text,
			"hs2dg INT",
			"description_hs2dg "+d.Text,
			"hs4dg INT",
			"description_hs4dg "+d.Text,
			"thaip_value "+d.Text,
			"dollar_value "+d.Text,
			"size "+d.Text,
			"month "+d.Text,
			"year "+d.KeyText,
		)),
		d.CreateIndex("ix_export_th_year", storage.TableSource, []string{"year"}, false),

		d.CreateTable(storage.TableCountry, join(
			"country_id "+d.IdentityPK,
			"country "+d.KeyText+" NOT NULL",
		)),
		d.CreateIndex("ux_dim_country_country", storage.TableCountry, []string{"country"}, true),

		d.CreateTable(storage.TableHS2, join(
			"hs2_id "+d.IdentityPK,
			"hs2dg INT NOT NULL",
			"description "+d.KeyText+" NOT NULL",
		)),
		d.CreateIndex("ux_dim_hs2_code_desc", storage.TableHS2, []string{"hs2dg", "description"}, true),

		d.CreateTable(storage.TableHS4, join(
			"hs4_id "+d.IdentityPK,
			"hs4dg INT NOT NULL",
			"description "+d.KeyText+" NOT NULL",
		)),
		d.CreateIndex("ux_dim_hs4_code_desc", storage.TableHS4, []string{"hs4dg", "description"}, true),

		d.CreateTable(storage.TableFact, join(
			"id "+d.IdentityPK,
			"country_id "+dimRef(storage.DimCountry),
			"hs2_id "+dimRef(storage.DimHS2),
			"hs4_id "+dimRef(storage.DimHS4),
			"thaip_value "+d.Money+" NOT NULL",
			"dollar_value "+d.Money+" NOT NULL",
			"size "+d.Text,
			"month INT NOT NULL",
			"year INT NOT NULL",
		)),
		d.CreateIndex("ix_fact_export_th_year", storage.TableFact, []string{"year"}, false),
	}
}

func join(cols ...string) string { return strings.Join(cols, ", ") }
