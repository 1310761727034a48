// Package testutil provides testing utilities for eventtable.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG and row fixtures for the
// {id, name, balance} accounts table used throughout the test suites.
//
// # Fixtures
//
//	schema := testutil.AccountsSchema()
//	rows := testutil.Accounts(3)            // ids 1..3, deterministic names and balances
//	rng := testutil.NewRNG(42)
//	random := rng.Accounts(100, 10)         // 100 rows with ids drawn from [0, 10)
package testutil
