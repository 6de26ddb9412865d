package handler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"petrolink-system/internal/database/models"
)

type ReadingInput struct {
	NozzleID       int64   `json:"nozzle_id" binding:"required"`
	ClosingReading float64 `json:"closing_reading"`
}

type plannedReading struct {
	NozzleID    int64
	TankID      int64
	Opening     decimal.Decimal
	Closing     decimal.Decimal
	Consumption decimal.Decimal
}

type readingPlan struct {
	Readings []plannedReading
	// TankDeltas holds the net amount to subtract from each tank. Resubmitted
	// readings contribute only the difference against their previously stored
	// consumption, so a batch is never applied twice.
	TankDeltas map[int64]decimal.Decimal
}

// planReadings resolves opening readings and computes consumption for a batch
// of closing readings. The whole batch fails on an unknown nozzle or any
// negative consumption; no partial plans are returned.
func planReadings(
	inputs []ReadingInput,
	openingByNozzle map[int64]decimal.Decimal,
	priorConsumption map[int64]decimal.Decimal,
	nozzlesByID map[int64]models.Nozzle,
) (readingPlan, error) {
	plan := readingPlan{
		TankDeltas: make(map[int64]decimal.Decimal),
	}

	seen := make(map[int64]bool, len(inputs))
	for _, input := range inputs {
		nozzle, ok := nozzlesByID[input.NozzleID]
		if !ok {
			return readingPlan{}, fmt.Errorf("nozzle %d not found", input.NozzleID)
		}
		if seen[input.NozzleID] {
			return readingPlan{}, fmt.Errorf("duplicate reading for nozzle %s", nozzle.Name)
		}
		seen[input.NozzleID] = true

		opening := openingByNozzle[input.NozzleID] // zero when no prior shift
		closing := decimal.NewFromFloat(input.ClosingReading)
		consumption := closing.Sub(opening)

		if consumption.IsNegative() {
			return readingPlan{}, fmt.Errorf(
				"closing reading for nozzle %s is below its opening reading (%s < %s)",
				nozzle.Name, closing.String(), opening.String(),
			)
		}

		delta := consumption.Sub(priorConsumption[input.NozzleID])
		plan.TankDeltas[nozzle.TankID] = plan.TankDeltas[nozzle.TankID].Add(delta)

		plan.Readings = append(plan.Readings, plannedReading{
			NozzleID:    input.NozzleID,
			TankID:      nozzle.TankID,
			Opening:     opening,
			Closing:     closing,
			Consumption: consumption,
		})
	}

	return plan, nil
}

// openingReadings maps each nozzle to its opening value for a new shift: the
// closing reading recorded on the most recent prior shift, zero when absent.
func openingReadings(priorReadings []models.NozzleReading) map[int64]decimal.Decimal {
	openings := make(map[int64]decimal.Decimal, len(priorReadings))
	for _, r := range priorReadings {
		if r.ClosingReading != nil {
			openings[r.NozzleID] = *r.ClosingReading
		}
	}
	return openings
}
