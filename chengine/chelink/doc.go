// Package chelink contains types the engine exchanges with its drivers:
// hooks it calls, and notifications it emits.
package chelink
