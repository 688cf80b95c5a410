// Package session provides SessionService implementations: a process-local
// in-memory service for tests and prototypes, and a durable Badger-backed
// service in the badger subpackage.
package session
