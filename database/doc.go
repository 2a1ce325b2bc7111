// Package database holds the infrastructure of the data layer: configuration,
// per-context connection pools, the entity metadata registry, table creation,
// SQL scripts, query hooks, logging and error classification, built on Bun.
package database
