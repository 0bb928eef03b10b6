// Package ledger is the durable record of announced items.
//
// It answers "was this url delivered before?" and records new deliveries.
// The url is a primary key in every driver; a second Record for the same url
// reports ErrDuplicate instead of creating a second row.
package ledger
