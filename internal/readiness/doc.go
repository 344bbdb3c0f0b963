// Package readiness waits for the services a Django deployment depends on.
// A Probe makes one connection attempt; a Waiter repeats it under a Policy
// (attempt budget, delay, optional multiplier, cap and jitter) and gives up
// with ErrNotReady once the budget is spent.
package readiness
