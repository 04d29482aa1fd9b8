// Package resolver turns a credential-store session into the resolved
// identity the rest of the pipeline consumes: user, effective role, role
// set and merchant profile.
//
// A Resolver is a small state machine (Idle, Loading, Authenticated,
// Anonymous) driven by Login, Logout, Adopt, LoadUser and upstream auth
// changes. Loads are tagged with a monotonic token and a completion is
// applied only when its token is newer than the last applied one, so a slow
// stale load never overwrites a newer result. Login, Logout and auth-change
// handling are serialized through one operation lock.
//
// Loader is the stateless half used per HTTP request.
package resolver
