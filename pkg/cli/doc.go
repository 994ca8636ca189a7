// Package cli provides shared helpers for Kestrel's command-line interface:
// typed command errors and signal-driven shutdown plumbing.
package cli
