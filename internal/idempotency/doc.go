// Package idempotency rejects repeated Idempotency-Key values on chat
// requests within a configurable window.
package idempotency
