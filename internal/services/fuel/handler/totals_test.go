package handler

import (
	"testing"

	"github.com/shopspring/decimal"

	"petrolink-system/internal/database/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeSaleTotalsReadsPaymentsOnce(t *testing.T) {
	// Card and cash are shift-level values replicated on every row; summing
	// them across three nozzles would triple the money.
	sales := []models.NozzleSale{
		{QuantityLiters: dec("100"), PricePerLiter: dec("2.18"), CardAmount: dec("300"), CashAmount: dec("150")},
		{QuantityLiters: dec("50"), PricePerLiter: dec("2.33"), CardAmount: dec("300"), CashAmount: dec("150")},
		{QuantityLiters: dec("0"), PricePerLiter: dec("2.18"), CardAmount: dec("300"), CashAmount: dec("150")},
	}

	totals := computeSaleTotals(sales)

	if !totals.Card.Equal(dec("300")) {
		t.Errorf("card = %s, want 300", totals.Card)
	}
	if !totals.Cash.Equal(dec("150")) {
		t.Errorf("cash = %s, want 150", totals.Cash)
	}
	if !totals.Liters.Equal(dec("150")) {
		t.Errorf("liters = %s, want 150", totals.Liters)
	}
	// 100*2.18 + 50*2.33 = 218 + 116.5
	if !totals.Revenue.Equal(dec("334.5")) {
		t.Errorf("revenue = %s, want 334.5", totals.Revenue)
	}
	// 334.5 / 150
	if !totals.AverageRate.Equal(dec("2.23")) {
		t.Errorf("average rate = %s, want 2.23", totals.AverageRate)
	}
}

func TestComputeSaleTotalsZeroLiters(t *testing.T) {
	sales := []models.NozzleSale{
		{QuantityLiters: decimal.Zero, PricePerLiter: dec("2.18"), CardAmount: dec("10"), CashAmount: decimal.Zero},
	}

	totals := computeSaleTotals(sales)

	if !totals.AverageRate.Equal(decimal.Zero) {
		t.Errorf("average rate = %s, want 0 when nothing was dispensed", totals.AverageRate)
	}
	if !totals.Revenue.Equal(decimal.Zero) {
		t.Errorf("revenue = %s, want 0", totals.Revenue)
	}
}

func TestComputeSaleTotalsEmpty(t *testing.T) {
	totals := computeSaleTotals(nil)

	if !totals.Liters.Equal(decimal.Zero) || !totals.Revenue.Equal(decimal.Zero) {
		t.Errorf("empty sales should total zero, got %s liters / %s revenue", totals.Liters, totals.Revenue)
	}
}

func TestSaleTankDeltasAccumulatePerTank(t *testing.T) {
	tank10 := &models.Nozzle{ID: 1, TankID: 10}
	tank10b := &models.Nozzle{ID: 2, TankID: 10}
	tank20 := &models.Nozzle{ID: 3, TankID: 20}

	sales := []models.NozzleSale{
		{NozzleID: 1, Nozzle: tank10, QuantityLiters: dec("50")},
		{NozzleID: 2, Nozzle: tank10b, QuantityLiters: dec("60")},
		{NozzleID: 3, Nozzle: tank20, QuantityLiters: decimal.Zero},
	}

	deltas := saleTankDeltas(sales)

	if !deltas[10].Equal(dec("110")) {
		t.Errorf("tank 10 delta = %s, want 110", deltas[10])
	}
	if _, ok := deltas[20]; ok {
		t.Error("zero-quantity nozzle should not produce a tank delta")
	}
}

func TestLatestPricesKeepsNewestPerFuelType(t *testing.T) {
	// Sorted by effective_from descending, as the query returns them.
	prices := []models.FuelPrice{
		{ID: 4, FuelType: models.FuelOctane91, PricePerLiter: dec("2.28")},
		{ID: 3, FuelType: models.FuelDiesel, PricePerLiter: dec("1.15")},
		{ID: 2, FuelType: models.FuelOctane91, PricePerLiter: dec("2.18")},
		{ID: 1, FuelType: models.FuelOctane95, PricePerLiter: dec("2.33")},
	}

	current := latestPrices(prices)

	if len(current) != 3 {
		t.Fatalf("expected 3 current prices, got %d", len(current))
	}
	byType := make(map[models.FuelType]models.FuelPrice, len(current))
	for _, p := range current {
		byType[p.FuelType] = p
	}
	if !byType[models.FuelOctane91].PricePerLiter.Equal(dec("2.28")) {
		t.Errorf("91 price = %s, want the newer 2.28", byType[models.FuelOctane91].PricePerLiter)
	}
	if !byType[models.FuelOctane95].PricePerLiter.Equal(dec("2.33")) {
		t.Errorf("95 price = %s, want 2.33", byType[models.FuelOctane95].PricePerLiter)
	}
}
