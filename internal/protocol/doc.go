// Package protocol defines the graphql-transport-ws frames exchanged with
// the subscription server.
//
// Every frame is a JSON object with an optional id, a type and an optional
// payload. Ids may carry a "|"-delimited salt so that several local
// subscriptions can share one server-side logical id.
package protocol
