//go:build cgo

package store

// go-libsql requires cgo; its driver is registered only in cgo builds.
import _ "github.com/tursodatabase/go-libsql"
