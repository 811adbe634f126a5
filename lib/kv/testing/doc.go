// Package testing provides a standardized test suite for the table
// engines in this module.
//
//   - RunTableTests: runs single-thread semantics, failure semantics,
//     reclamation behavior and multi-thread stress against a table
//     factory. Engines invoke it from their own package tests so every
//     implementation is held to the same contract.
//
// The stress scenarios replay deterministic per-thread RNG streams after
// the writers join, so recall assertions do not depend on timing.
package testing
