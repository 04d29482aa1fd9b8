// Package loginpattern flags suspicious successful logins from the user's
// recent login history. Findings are advisory: the caller records a
// security event and lets the login proceed.
package loginpattern
