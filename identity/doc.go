// Package identity holds the domain types shared by every goGuard component:
// roles and their precedence, users, sessions, merchant profiles, MFA
// enrollments, permissions, and login records.
//
// # Architecture boundaries
//
// This is a leaf package. Stores, the resolver, the MFA engine, and the route
// guard all exchange these values, so it carries no behavior beyond small
// invariants (role precedence, session validity).
//
// # What this package must NOT do
//
//   - Import any other goGuard package.
//   - Perform I/O.
package identity
