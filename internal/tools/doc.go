// Package tools provides host command execution for the collaborators that
// shell out (clock setting, power-off).
package tools
