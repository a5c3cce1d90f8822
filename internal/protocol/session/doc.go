// Package session owns the transmit side of one bus connection.
//
// Ownership boundary:
// - pending transmissions, echo confirmation and retry (Arbiter)
// - tick and echo-window timing defaults (Config)
// - reopen backoff after the channel is declared broken
//
// Every Arbiter method must be called from the reactor goroutine; nothing in
// this package locks.
package session
