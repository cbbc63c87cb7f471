// Package engine implements the adaptive encoding core: resize into a
// pixel envelope, encode with format fallback, and the iterative
// target-size search that converges output toward a byte budget.
//
// Encode walks the capability resolver's fallback chain and fails only when
// every member fails. Search wraps Encode in a quality bisection with a
// bounded resolution-fallback escape hatch; it is best effort and reports
// an over-budget result as a soft outcome rather than an error.
package engine
