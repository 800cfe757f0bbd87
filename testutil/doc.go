// Package testutil provides testing utilities for HLKVDS.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic key and value generators, skewed workloads
// and a reference model to verify a store against.
//
// # Keys and Values
//
//	rng := testutil.NewRNG(seed)
//	keys := testutil.Keys(1000)
//	vals := rng.Values(1000, 16, 256)
//
// # Workloads
//
//	ops := rng.Workload(10_000, 500, 0.1, 1.2, 16, 256)
//	model := testutil.NewModel()
//	for _, op := range ops {
//		model.Apply(op)
//	}
package testutil
