// Package model holds the plain-data shapes shared by every layer: the
// file-tree Node as presentation and the wire see it, plus canonical JSON and
// digests used to compare replicas.
//
// This package imports nothing internal.
package model
