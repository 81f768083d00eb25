// Package discovery locates and validates the worker host binary.
//
// Discovery searches in the following order:
//  1. Explicit path in Config.HostPath (if provided)
//  2. System PATH
//  3. Common installation directories (/usr/local/bin, /usr/bin, ~/.local/bin, ~/go/bin)
//
// The host version reported by "--version" is compared with
// MinimumHostVersion. An older host only produces a warning.
package discovery
