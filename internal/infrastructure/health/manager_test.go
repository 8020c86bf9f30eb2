package health

import (
	"fmt"
	"reflect"
	"testing"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)

	// Initial state: Healthy (no checks)
	if !hm.IsHealthy() {
		t.Error("Empty health manager should be healthy")
	}

	hm.Register("control", func() error { return nil })
	if !hm.IsHealthy() {
		t.Error("Healthy component should not fail manager")
	}

	hm.Register("exchange", func() error { return fmt.Errorf("connection refused") })
	if hm.IsHealthy() {
		t.Error("Unhealthy component should fail manager")
	}

	status := hm.GetStatus()
	if status["control"] != "Healthy" {
		t.Errorf("Expected Healthy, got %s", status["control"])
	}
	if status["exchange"] != "Unhealthy: connection refused" {
		t.Errorf("Expected Unhealthy, got %s", status["exchange"])
	}
}

func TestHealthManager_InformationalChecks(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("ledger", func() error { return nil })
	hm.RegisterInfo("prices", func() error { return fmt.Errorf("stale price data") })

	if !hm.IsHealthy() {
		t.Error("Informational check should not fail manager")
	}
	if got := hm.GetStatus()["prices"]; got != "Degraded: stale price data" {
		t.Errorf("Expected Degraded, got %s", got)
	}
	if got := hm.Components(); !reflect.DeepEqual(got, []string{"ledger", "prices"}) {
		t.Errorf("Unexpected components %v", got)
	}

	// Re-registering replaces the check
	hm.RegisterInfo("prices", func() error { return nil })
	if got := hm.GetStatus()["prices"]; got != "Healthy" {
		t.Errorf("Expected Healthy after replace, got %s", got)
	}
}
