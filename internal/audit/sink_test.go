package audit

import (
	"testing"

	"github.com/shortontech/sentry/internal/verdict"
)

func TestNewRecordStampsEventIDAndTimestamp(t *testing.T) {
	v := verdict.Assemble(nil)
	r := NewRecord("1.2.3.4", "/api/bot", v)

	if r.EventID == "" {
		t.Error("expected a non-empty event id")
	}
	if r.TS == "" {
		t.Error("expected a non-empty timestamp")
	}
	if r.IP != "1.2.3.4" {
		t.Errorf("IP = %q, want 1.2.3.4", r.IP)
	}
	if r.Route != "/api/bot" {
		t.Errorf("Route = %q, want /api/bot", r.Route)
	}

	r2 := NewRecord("1.2.3.4", "/api/bot", v)
	if r2.EventID == r.EventID {
		t.Error("expected distinct event ids across calls")
	}
}
