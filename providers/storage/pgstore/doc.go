// Package pgstore implements storage.Store on a PostgreSQL table through
// pgx/v5, so several aimux processes can share accounts and the model cache.
//
// [New] takes any [Querier]; *pgxpool.Pool and pgx.Tx both satisfy it. Call
// [Store.EnsureSchema] during development to create the table; production
// deployments should manage the schema with migration tooling.
package pgstore
