// Package storage persists the last applied settings per scope and an
// append-only audit trail of timer failures and rejected parameters.
//
// Two backends exist: "file" (JSON snapshot + JSON Lines) and "sqlite".
package storage
