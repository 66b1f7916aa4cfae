// Package scheduler resets driver progress once a day. The schedule file
// gives the reset time and optional per-driver targets applied right after
// each reset.
package scheduler
