// Package scheduler drives the poll cycle: validate channels once, then on
// every schedule point collect, drop already delivered items, broadcast each
// fresh item and record it in the ledger.
package scheduler
