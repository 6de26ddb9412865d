package handler

import (
	"testing"

	"github.com/shopspring/decimal"

	"petrolink-system/internal/database/models"
)

func testNozzles() map[int64]models.Nozzle {
	return map[int64]models.Nozzle{
		1: {ID: 1, Name: "ST1-91-1", TankID: 10, FuelType: models.FuelOctane91},
		2: {ID: 2, Name: "ST1-91-2", TankID: 10, FuelType: models.FuelOctane91},
		3: {ID: 3, Name: "ST1-95-1", TankID: 20, FuelType: models.FuelOctane95},
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPlanReadingsConsumption(t *testing.T) {
	openings := map[int64]decimal.Decimal{1: dec("1000"), 3: dec("500")}
	inputs := []ReadingInput{
		{NozzleID: 1, ClosingReading: 1150},
		{NozzleID: 3, ClosingReading: 500},
	}

	plan, err := planReadings(inputs, openings, nil, testNozzles())
	if err != nil {
		t.Fatalf("planReadings failed: %v", err)
	}
	if len(plan.Readings) != 2 {
		t.Fatalf("expected 2 planned readings, got %d", len(plan.Readings))
	}

	if !plan.Readings[0].Consumption.Equal(dec("150")) {
		t.Errorf("nozzle 1 consumption = %s, want 150", plan.Readings[0].Consumption)
	}
	if !plan.Readings[1].Consumption.Equal(decimal.Zero) {
		t.Errorf("nozzle 3 consumption = %s, want 0", plan.Readings[1].Consumption)
	}
	if !plan.TankDeltas[10].Equal(dec("150")) {
		t.Errorf("tank 10 delta = %s, want 150", plan.TankDeltas[10])
	}
}

func TestPlanReadingsFirstShiftOpensAtZero(t *testing.T) {
	inputs := []ReadingInput{{NozzleID: 1, ClosingReading: 75}}

	plan, err := planReadings(inputs, map[int64]decimal.Decimal{}, nil, testNozzles())
	if err != nil {
		t.Fatalf("planReadings failed: %v", err)
	}
	if !plan.Readings[0].Opening.Equal(decimal.Zero) {
		t.Errorf("opening = %s, want 0", plan.Readings[0].Opening)
	}
	if !plan.Readings[0].Consumption.Equal(dec("75")) {
		t.Errorf("consumption = %s, want 75", plan.Readings[0].Consumption)
	}
}

func TestPlanReadingsSharedTankAccumulates(t *testing.T) {
	openings := map[int64]decimal.Decimal{1: dec("100"), 2: dec("200")}
	inputs := []ReadingInput{
		{NozzleID: 1, ClosingReading: 150},
		{NozzleID: 2, ClosingReading: 260},
	}

	plan, err := planReadings(inputs, openings, nil, testNozzles())
	if err != nil {
		t.Fatalf("planReadings failed: %v", err)
	}
	if !plan.TankDeltas[10].Equal(dec("110")) {
		t.Errorf("tank 10 delta = %s, want 110 (50 + 60)", plan.TankDeltas[10])
	}
}

func TestPlanReadingsRejectsNegativeConsumption(t *testing.T) {
	openings := map[int64]decimal.Decimal{1: dec("100"), 3: dec("500")}
	inputs := []ReadingInput{
		{NozzleID: 1, ClosingReading: 150},
		{NozzleID: 3, ClosingReading: 490},
	}

	if _, err := planReadings(inputs, openings, nil, testNozzles()); err == nil {
		t.Fatal("expected error for closing below opening, got nil")
	}
}

func TestPlanReadingsRejectsUnknownNozzle(t *testing.T) {
	inputs := []ReadingInput{{NozzleID: 99, ClosingReading: 10}}

	if _, err := planReadings(inputs, nil, nil, testNozzles()); err == nil {
		t.Fatal("expected error for unknown nozzle, got nil")
	}
}

func TestPlanReadingsRejectsDuplicateNozzle(t *testing.T) {
	inputs := []ReadingInput{
		{NozzleID: 1, ClosingReading: 10},
		{NozzleID: 1, ClosingReading: 20},
	}

	if _, err := planReadings(inputs, nil, nil, testNozzles()); err == nil {
		t.Fatal("expected error for duplicate nozzle, got nil")
	}
}

func TestPlanReadingsResubmissionAppliesOnlyDelta(t *testing.T) {
	openings := map[int64]decimal.Decimal{1: dec("1000")}
	prior := map[int64]decimal.Decimal{1: dec("150")}
	inputs := []ReadingInput{{NozzleID: 1, ClosingReading: 1180}}

	plan, err := planReadings(inputs, openings, prior, testNozzles())
	if err != nil {
		t.Fatalf("planReadings failed: %v", err)
	}
	if !plan.Readings[0].Consumption.Equal(dec("180")) {
		t.Errorf("consumption = %s, want 180", plan.Readings[0].Consumption)
	}
	if !plan.TankDeltas[10].Equal(dec("30")) {
		t.Errorf("tank 10 delta = %s, want 30 (180 - 150 already applied)", plan.TankDeltas[10])
	}
}

func TestPlanReadingsResubmissionLowerCorrectionRestocksTank(t *testing.T) {
	openings := map[int64]decimal.Decimal{1: dec("1000")}
	prior := map[int64]decimal.Decimal{1: dec("150")}
	inputs := []ReadingInput{{NozzleID: 1, ClosingReading: 1120}}

	plan, err := planReadings(inputs, openings, prior, testNozzles())
	if err != nil {
		t.Fatalf("planReadings failed: %v", err)
	}
	if !plan.TankDeltas[10].Equal(dec("-30")) {
		t.Errorf("tank 10 delta = %s, want -30", plan.TankDeltas[10])
	}
}

func TestOpeningReadings(t *testing.T) {
	closing := dec("1234.5")
	readings := []models.NozzleReading{
		{NozzleID: 1, OpeningReading: dec("1000"), ClosingReading: &closing},
		{NozzleID: 2, OpeningReading: dec("500")}, // never closed out
	}

	openings := openingReadings(readings)
	if len(openings) != 1 {
		t.Fatalf("expected 1 opening, got %d", len(openings))
	}
	if !openings[1].Equal(closing) {
		t.Errorf("opening for nozzle 1 = %s, want %s", openings[1], closing)
	}
}
