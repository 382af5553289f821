// Package models defines the records of the shared bill-splitting ledger.
//
// # Records
//
// The ledger holds two kinds of records:
//   - BillEntry: a shared expense, versioned by ID as it moves through
//     Proposed, Approved and Settled
//   - Settlement: net balances derived from a batch of approved entries
//
// Records are values. A transition never edits a record in place; it consumes
// one version and produces a new one carrying the same ID.
//
// # Parties
//
// Parties are identified by PartyKey, an opaque comparable value (the hex
// encoded public key of the party). Human-readable names live in the identity
// directory, never in records.
//
// # Operators
//
// Operator is a local account allowed to drive a node through its command
// surface. Operators are not ledger parties.
package models
