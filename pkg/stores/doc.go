// Package stores provides persistence for solution records.
//
// SQLiteStore keeps records in a single SQLite file (WAL mode, embedded
// golang-migrate migrations). Every Update runs inside a BEGIN IMMEDIATE
// transaction: the record is read, the mutation is applied to a copy and
// checked with engine.CheckMutation, then written with a version guard.
// Validation attempts live in an insert-only table and every committed
// mutation appends an audit row. MemoryStore implements the same contract
// in process and backs the engine tests.
package stores
