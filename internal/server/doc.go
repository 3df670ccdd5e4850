// Package server hosts the optional diagnostics HTTP service of the installer.
// It exposes the current phase and progress snapshot, cache entries, the package
// selection and prometheus metrics under /-/ and /metrics. The install pipeline
// never depends on this package; the driver wires it in when a listen address is
// configured.
package server
