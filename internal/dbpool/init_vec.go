//go:build sqlite_vec && cgo

package dbpool

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Registering sqlite-vec with the mattn/go-sqlite3 driver must happen before
// any connection is opened, matching the teacher's internal/store/init_vec.go.
func init() {
	vec.Auto()
}
