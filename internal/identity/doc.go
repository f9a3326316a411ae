// Package identity holds Chord's identity primitives: the safe-email key
// normalizer used to address per-user subtrees, and the error kinds shared
// by the directory and messenger layers.
//
// This package is intentionally dependency-light.
package identity
