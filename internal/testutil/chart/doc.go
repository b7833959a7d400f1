// Package chart provides test infrastructure for chart-of-accounts data.
//
// The builder assembles catalog entries fluently; fixtures are predefined
// charts shared across packages so tests agree on which codes exist.
//
//	entries := chart.NewBuilder(t).
//		WithFixture(chart.FixtureExpenses).
//		WithAccount("603.99", "Custom account", "").
//		Build()
//
// BuildIndex embeds the accounts with a deterministic hash embedder and
// returns a ready catalog.Index, which is what retrieval tests need.
package chart
