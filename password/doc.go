// Package password owns two concerns: the strength policy applied before a
// password ever reaches the credential store, and Argon2id hashing used by
// the in-memory credential store.
//
// # Policy
//
// [Check] runs, in order: empty/length, breached list, character classes
// (two or more missing classes reject), sequential substrings, and runs of
// three identical characters. The first failing stage is returned as a
// [*PolicyError] carrying user-facing reasons.
//
// # Hash format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goGuard package.
//   - Log plaintext passwords.
package password
