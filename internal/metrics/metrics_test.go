package metrics

import "testing"

func TestRegisterDefaultIsIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()
	CallbackOutcomes.WithLabelValues("processed").Inc()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "payment_callbacks_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("payment_callbacks_total not registered")
	}
}
