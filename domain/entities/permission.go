package entities

import (
	"fmt"
	"sort"
)

// Permission is a capability token gating access to one host resource.
// The set is closed: a lapp may only request permissions listed here.
type Permission string

const (
	// PermissionFileRead grants read access to the lapp's data directory.
	PermissionFileRead Permission = "file_read"

	// PermissionFileWrite grants write and create access to the lapp's
	// data directory.
	PermissionFileWrite Permission = "file_write"

	// PermissionDatabase grants access to the lapp's SQLite database
	// through the db_execute/db_query/db_query_row host functions.
	PermissionDatabase Permission = "database"

	// PermissionHTTP grants outbound HTTP access through invoke_http.
	PermissionHTTP Permission = "http"

	// PermissionSleep grants access to the invoke_sleep host function.
	PermissionSleep Permission = "sleep"
)

// AllPermissions returns every permission in the closed set, sorted.
func AllPermissions() []Permission {
	return []Permission{
		PermissionDatabase,
		PermissionFileRead,
		PermissionFileWrite,
		PermissionHTTP,
		PermissionSleep,
	}
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	switch p {
	case PermissionFileRead, PermissionFileWrite, PermissionDatabase, PermissionHTTP, PermissionSleep:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (p Permission) String() string {
	return string(p)
}

// ParsePermission converts a string to a Permission, rejecting tokens
// outside the closed set.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission: %q", s)
	}
	return p, nil
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
