// Package stepfunctions manages AWS Step Functions state machines and
// their executions for deployed flows.
package stepfunctions
