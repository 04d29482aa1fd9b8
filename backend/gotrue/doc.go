// Package gotrue is a REST client for the hosted identity provider's auth
// API. It implements backend.CredentialStore.
package gotrue
