// Package redis implements the domain store contracts on a shared Redis
// instance. All cross-process state (sessions, revocation lists, OAuth2
// grant-flow records, rate-limit windows) lives here so the services stay
// stateless.
package redis
