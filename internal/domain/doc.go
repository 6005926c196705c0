// Package domain defines the core types of the scrub-files gateway.
//
// Types in this package are value objects shared by handlers, workflows and
// gateways. They carry JSON tags for the HTTP surface and dynamodbav tags for
// the document store; validation methods are pure functions on the type.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No SDK clients, no http.Request, no context.Context in struct fields
package domain
