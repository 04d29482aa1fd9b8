// Package memory is the in-process stand-in for the hosted identity provider
// and row store. It seeds three mock accounts and is meant for local
// development and tests only.
package memory
