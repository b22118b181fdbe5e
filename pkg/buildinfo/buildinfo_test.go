package buildinfo

import "testing"

func TestNewProducesDistinctNonEmptyIdentities(t *testing.T) {
	a := New()
	b := New()

	if a.ServerID == "" || a.ServiceID == "" {
		t.Fatal("expected non-empty server/service identifiers")
	}
	if a.ServerID == b.ServerID {
		t.Fatal("expected distinct server ids across instances")
	}
	if a.ServicePID <= 0 {
		t.Fatalf("expected a positive pid, got %d", a.ServicePID)
	}
	if a.ServicePID != b.ServicePID {
		t.Fatal("expected the same process pid across instances")
	}
}
