package cpu

import "testing"

// BenchmarkStep measures the raw dispatch overhead of Step on a counting
// loop, without snapshots.
func BenchmarkStep(b *testing.B) {
	listing := []string{
		".func __start",
		"    LI r0, 1000",
		"    LI r1, 1",
		"L1:",
		"    SUB r0, r0, r1",
		"    BNEZ r0, L1",
		"    HALT",
		".endfunc",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := NewCPU(listing)
		if err != nil {
			b.Fatal(err)
		}
		for !c.Halted {
			if _, err := c.Step(); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkSimulate includes the per-step memory snapshots.
func BenchmarkSimulate(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Simulate(factListing, Options{})
	}
}
