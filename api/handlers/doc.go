// Package handlers contains the HTTP handlers of the turn API: turn
// submission, session inspection, and health endpoints.
package handlers
