// Package repository is the unit of work over the configured database
// contexts. Entity types are routed to the context owning them; queries are
// deferred and composable; changes are staged and written on Commit.
//
//	repo, err := repository.Open(ctx, conns, database.DefaultRegistry())
//	customer, err := repository.Find[Customer](ctx, repo, 42)
//	customer.LastName = "Smith"
//	err = repo.Commit(ctx)
package repository
