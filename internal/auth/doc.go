// Package auth verifies bearer tokens presented on the websocket upgrade.
//
// Three verifiers are provided: JWTVerifier (HS256, principal from the
// "sub" claim), StaticVerifier (one shared secret, constant-time compare),
// and AllowAll for loopback deployments with auth disabled. The gateway
// picks one from its config at startup.
package auth
