// Package directory provides the user and case lookups the gateway consults.
//
// PostgresDirectory reads projected rows from PostgreSQL (lib/pq) and is used
// in production. MemoryDirectory holds records in process for development
// mode and tests. Both implement auth.UserDirectory and auth.ResourceStore and
// neither caches: every call reflects the store at that instant.
package directory
