// Package agent contains the orchestrator that ties a conversation to the
// chat stream and the plan execution engine. It owns the single in-flight
// cancellation controller so that a new message or execution always aborts
// the previous one.
package agent
