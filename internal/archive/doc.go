// Package archive stores received subscription frames in PostgreSQL or
// TimescaleDB.
//
// Frames are batched in memory and flushed with pgx.Batch either when the
// batch is full or on a timer. The archive only records what the server sent;
// it is never read back to restore client state.
package archive
