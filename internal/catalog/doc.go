// Package catalog loads the install source description: a precomputed metadata
// index (basename → logical name, size and header byte range) and a YAML manifest
// listing basename templates with their requirement tier and architectures.
// Every manifest basename must resolve to an index entry; a stale index is fatal.
package catalog
