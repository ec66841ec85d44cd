// Package fusion converts raw order rows into per-customer behavioral
// aggregates and joins them with demographic customer rows into
// analysis-ready profiles. Both steps are pure, synchronous, single-pass
// computations: the clock is injected, schema detection happens once per
// run, and mode tie-breaking is first-seen-wins so repeated runs over the
// same input agree.
package fusion
