package entities

// UpdateQuery is one administrative settings mutation: toggle the
// enabled flag, grant one permission, or revoke one permission. Fields
// left nil are untouched. The same shape is returned to the caller
// with every field that produced no actual change cleared, so the
// caller knows whether a persistence write happened.
type UpdateQuery struct {
	Enabled         *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	AllowPermission *Permission `json:"allow_permission,omitempty" yaml:"allow_permission,omitempty"`
	DenyPermission  *Permission `json:"deny_permission,omitempty" yaml:"deny_permission,omitempty"`
}

// Empty reports whether the query carries no effective change.
func (q UpdateQuery) Empty() bool {
	return q.Enabled == nil && q.AllowPermission == nil && q.DenyPermission == nil
}
