package domain

import "testing"

func TestParseKeyPolicy(t *testing.T) {
	cases := []struct {
		in   string
		want KeyPolicy
		ok   bool
	}{
		{"ip", PolicyIP, true},
		{" AUTH ", PolicyAuth, true},
		{"auth+ip", PolicyAuthIP, true},
		{"jwt", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseKeyPolicy(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("ParseKeyPolicy(%q) = %q,%v; want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := ParseAction("Drop"); !ok || a != ActionDrop {
		t.Fatalf("expected drop, got %q ok=%v", a, ok)
	}
	if _, ok := ParseAction("reject"); ok {
		t.Fatalf("expected unknown action to be rejected")
	}
}

func TestDefaultRuntimeConfig_BurstIsTwiceRate(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	if cfg.Burst != 2*cfg.Rate {
		t.Fatalf("expected burst=2*rate, got rate=%v burst=%v", cfg.Rate, cfg.Burst)
	}
	if cfg.KeyPolicy != PolicyIP || cfg.Action != ActionBlock {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
