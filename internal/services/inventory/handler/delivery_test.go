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

func TestCheckDeliveryCapacityRejectsOverfill(t *testing.T) {
	capacity := dec("10000")
	tank := models.Tank{ID: 1, Capacity: &capacity, CurrentLevel: dec("9500")}

	if err := checkDeliveryCapacity(tank, dec("700")); err == nil {
		t.Fatal("expected overfill error for 9500 + 700 against capacity 10000")
	}
}

func TestCheckDeliveryCapacityAllowsFit(t *testing.T) {
	capacity := dec("10000")
	tank := models.Tank{ID: 1, Capacity: &capacity, CurrentLevel: dec("9500")}

	if err := checkDeliveryCapacity(tank, dec("400")); err != nil {
		t.Fatalf("delivery to 9900 of 10000 should fit: %v", err)
	}
}

func TestCheckDeliveryCapacityAllowsExactFill(t *testing.T) {
	capacity := dec("10000")
	tank := models.Tank{ID: 1, Capacity: &capacity, CurrentLevel: dec("9500")}

	if err := checkDeliveryCapacity(tank, dec("500")); err != nil {
		t.Fatalf("filling to exactly capacity should be allowed: %v", err)
	}
}

func TestCheckDeliveryCapacityUnknownCapacity(t *testing.T) {
	tank := models.Tank{ID: 1, CurrentLevel: dec("9500")}

	if err := checkDeliveryCapacity(tank, dec("50000")); err != nil {
		t.Fatalf("tanks without a registered capacity accept any amount: %v", err)
	}
}
