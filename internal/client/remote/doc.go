// Package remote is the client's view of the hosted database: versioned note
// rows, tags, device sessions and user identity. PostgresClient talks to the
// backing Postgres over pgx; the rest of the client only sees the interfaces
// declared here.
package remote
