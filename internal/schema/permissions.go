package schema

// Permissions are the per-record privileges granted by a deployment.
type Permissions struct {
	CanRead   bool `json:"can_read" yaml:"can_read"`
	CanCreate bool `json:"can_create" yaml:"can_create"`
	CanUpdate bool `json:"can_update" yaml:"can_update"`
	CanDelete bool `json:"can_delete" yaml:"can_delete"`
}

// PermissionsFrom derives flags from an allowed_privileges list. A nil or
// empty list grants nothing.
func PermissionsFrom(privileges []string) Permissions {
	var p Permissions
	for _, priv := range privileges {
		switch priv {
		case "read":
			p.CanRead = true
		case "create":
			p.CanCreate = true
		case "update":
			p.CanUpdate = true
		case "delete":
			p.CanDelete = true
		}
	}
	return p
}

var permissionColumns = []Column{
	{Name: "can_read", Type: Boolean},
	{Name: "can_create", Type: Boolean},
	{Name: "can_update", Type: Boolean},
	{Name: "can_delete", Type: Boolean},
}

func (p Permissions) put(r Row) {
	r["can_read"] = p.CanRead
	r["can_create"] = p.CanCreate
	r["can_update"] = p.CanUpdate
	r["can_delete"] = p.CanDelete
}

func (p *Permissions) scan(r Row) {
	p.CanRead = r.Bool("can_read")
	p.CanCreate = r.Bool("can_create")
	p.CanUpdate = r.Bool("can_update")
	p.CanDelete = r.Bool("can_delete")
}

// columns concatenates column groups into a fresh slice.
func columns(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var savedColumn = []Column{{Name: "saved", Type: Text}}
