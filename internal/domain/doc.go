// Package domain holds the core data model of the identity service and the
// store contracts its services depend on. Implementations live in the redis
// and store packages; services accept the interfaces so they stay stateless
// and horizontally scalable.
package domain
