package metrics

import "testing"

// BenchmarkCollector_CommandSent measures the overhead of counting a
// monitor command (atomic operations).
func BenchmarkCollector_CommandSent(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CommandSent()
	}
}

// BenchmarkCollector_BytesReceived measures byte-counter overhead on
// the console read path.
func BenchmarkCollector_BytesReceived(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(512)
	}
}

// BenchmarkCollector_Nil ensures nil-receiver calls are free.
func BenchmarkCollector_Nil(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(512)
	}
}
