// Package memory provides MemoryService implementations for long-term
// recall across sessions of one app/user pair.
package memory
