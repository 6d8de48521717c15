// Package lock provides named, cross-process reentrant locks coordinated
// through a shared external store. Two engines implement the same contract:
// RowLocker holds a SELECT ... FOR UPDATE row lock in an open transaction,
// TTLLocker holds an expiring key refreshed by a background lease renewer.
// Reentrancy is tracked per Holder, the explicit stand-in for a thread.
package lock
