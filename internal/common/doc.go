// Package common provides shared interfaces and types used across the
// engines: the LifecycleState machine every engine advances through,
// and the Stoppable interface for context-aware graceful shutdown.
package common
