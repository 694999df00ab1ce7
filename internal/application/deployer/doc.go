// Package deployer drives deployments through a child process per
// lifecycle operation.
//
// A Deployer holds configuration only. Binding it to a registered backend
// yields an Impl, which creates DeployedFlows; a DeployedFlow triggers
// TriggeredRuns. Every operation that changes orchestrator state re-invokes
// the executable with a backend group and verb, and payload-producing verbs
// receive their result through a fresh result channel. Status queries go to
// the orchestrator directly.
package deployer
