/*
Package auth authenticates the three peer kinds the Session Endpoint
accepts (spec.md §4.4) and enforces bucket scope on every document-touching
message.

Container-agent and service peers carry a ScopedToken minted by this
engine's TokenManager: a random hex bearer token bound, for container
agents, to exactly one bucket. Browser peers authenticate through
ExternalAuthorizer instead — their session token's validation and the
user-owns-bucket decision belong to the surrounding platform (out of scope
per spec.md §1), so this package only defines the interface the Session
Endpoint calls into.

CheckScope is the one rule this package enforces directly: a container
token whose bound bucket differs from the bucket a message names is
rejected with ErrUnauthorized, regardless of what ExternalAuthorizer would
say, so a compromised container connection cannot be used to reach another
bucket.
*/
package auth
