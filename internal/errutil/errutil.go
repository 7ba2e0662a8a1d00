// Package errutil contains small helpers for working with errors across
// the object store, transport and merge packages.
package errutil

import "io"

// Close closes c and stores its error into *err, but only if *err is still
// nil — it never overwrites an error that already happened.
func Close(c io.Closer, err *error) {
	e := c.Close()
	if *err == nil && e != nil {
		*err = e
	}
}
