// Package events defines the dispatch related events emitted on the event bus.
//
// Available event types:
//   - AssignmentEvent: an optimisation run or re-dispatch pass placed orders
//   - StrategyEvent: strategy selection and fallback information
//   - DegradedEvent: a collaborator fell back to a local default
//   - AtRiskEvent: a critical order has no feasible vehicle this cycle
//   - TickEvent: summary of a re-dispatch pass
package events
