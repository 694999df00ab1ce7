// Package orchestrator provides clients for the orchestrators flows are
// deployed to.
//
// Implementations:
//   - argo: Argo Workflows through the Kubernetes API
//   - stepfunctions: AWS Step Functions through the AWS SDK
package orchestrator
