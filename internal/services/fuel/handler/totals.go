package handler

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"petrolink-system/internal/database/models"
)

type saleTotals struct {
	Liters      decimal.Decimal
	Revenue     decimal.Decimal
	Card        decimal.Decimal
	Cash        decimal.Decimal
	AverageRate decimal.Decimal
}

// computeSaleTotals sums liters and revenue across the shift's sale rows.
// Card and cash are shift-level figures replicated on every row, so they are
// taken from the first row only; summing them would inflate the totals by the
// nozzle count. The average rate is revenue-weighted and zero when no fuel
// was dispensed.
func computeSaleTotals(sales []models.NozzleSale) saleTotals {
	totals := saleTotals{
		Liters:      decimal.Zero,
		Revenue:     decimal.Zero,
		Card:        decimal.Zero,
		Cash:        decimal.Zero,
		AverageRate: decimal.Zero,
	}
	if len(sales) == 0 {
		return totals
	}

	totals.Card = sales[0].CardAmount
	totals.Cash = sales[0].CashAmount

	for _, sale := range sales {
		totals.Liters = totals.Liters.Add(sale.QuantityLiters)
		totals.Revenue = totals.Revenue.Add(sale.QuantityLiters.Mul(sale.PricePerLiter))
	}

	if totals.Liters.IsPositive() {
		totals.AverageRate = totals.Revenue.Div(totals.Liters)
	}
	return totals
}

// saleTankDeltas sums dispensed liters per tank. Several nozzles can share a
// tank, so their quantities accumulate before the tank check.
func saleTankDeltas(sales []models.NozzleSale) map[int64]decimal.Decimal {
	deltas := make(map[int64]decimal.Decimal)
	for _, sale := range sales {
		if sale.Nozzle == nil || sale.QuantityLiters.IsZero() {
			continue
		}
		tankID := sale.Nozzle.TankID
		deltas[tankID] = deltas[tankID].Add(sale.QuantityLiters)
	}
	return deltas
}

type insufficientFuelError struct {
	tankID int64
	level  decimal.Decimal
	needed decimal.Decimal
}

func (e insufficientFuelError) Error() string {
	return fmt.Sprintf("insufficient fuel in tank %d: current %sL, needed %sL",
		e.tankID, e.level.String(), e.needed.String())
}

// applyTankDeltas subtracts the given amounts from tank levels inside the
// caller's transaction, failing without partial writes when any tank would
// go negative.
func applyTankDeltas(tx *gorm.DB, deltas map[int64]decimal.Decimal) error {
	for tankID, delta := range deltas {
		if delta.IsZero() {
			continue
		}

		var tank models.Tank
		if err := tx.Clauses(lockForUpdate()).First(&tank, tankID).Error; err != nil {
			return err
		}

		newLevel := tank.CurrentLevel.Sub(delta)
		if newLevel.IsNegative() {
			return insufficientFuelError{tankID: tank.ID, level: tank.CurrentLevel, needed: delta}
		}

		if err := tx.Model(&models.Tank{}).Where("id = ?", tank.ID).
			Update("current_level", newLevel).Error; err != nil {
			return err
		}
	}
	return nil
}
