// Package protocol defines the JSON-RPC 2.0 wire format spoken between
// loom clients and the gateway: the message envelope, the closed method
// table, typed params/results per method, and the error taxonomy.
package protocol
