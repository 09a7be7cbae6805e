// Package store persists auctions, line items, observed states, cost
// parameters and the event log. Two backends implement the same Store
// interface: SQLite for the single-operator desktop case and PostgreSQL for
// shared deployments.
package store
