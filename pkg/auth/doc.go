// Package auth establishes an authenticated Instagram session.
//
// The session blob is encrypted at rest with AES-GCM under a PBKDF2 key
// derived from the server secret. Passwords that are not in the config can
// be kept in the system keychain through KeyringStore.
package auth
