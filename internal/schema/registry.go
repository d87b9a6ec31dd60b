package schema

// Entry pairs a table with the factory that builds its entity from a row.
type Entry struct {
	Table *Table
	New   func() Model
}

// FromRow builds a populated entity from a stored row.
func (e Entry) FromRow(r Row) Model {
	m := e.New()
	m.Scan(r)
	return m
}

// Registry lists every cached entity in creation order.
var Registry = []Entry{
	{Table: DeploymentsTable, New: func() Model { return &Deployment{} }},
	{Table: UsersTable, New: func() Model { return &User{} }},
	{Table: FormsTable, New: func() Model { return &Form{} }},
	{Table: StagesTable, New: func() Model { return &Stage{} }},
	{Table: AttributesTable, New: func() Model { return &Attribute{} }},
	{Table: PostsTable, New: func() Model { return &Post{} }},
	{Table: ValuesTable, New: func() Model { return &Value{} }},
	{Table: ImagesTable, New: func() Model { return &Image{} }},
	{Table: CollectionsTable, New: func() Model { return &Collection{} }},
	{Table: FiltersTable, New: func() Model { return &Filter{} }},
}

// Tables returns every registered table in creation order.
func Tables() []*Table {
	tables := make([]*Table, len(Registry))
	for i, e := range Registry {
		tables[i] = e.Table
	}
	return tables
}

// Owned returns the tables whose rows belong to a deployment, children
// first, so they can be cleared before the deployment row itself.
func Owned() []*Table {
	return []*Table{
		UsersTable,
		AttributesTable,
		StagesTable,
		FormsTable,
		ValuesTable,
		ImagesTable,
		PostsTable,
		CollectionsTable,
		FiltersTable,
	}
}

// Lookup finds the registry entry for a table name.
func Lookup(name string) (Entry, bool) {
	for _, e := range Registry {
		if e.Table.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
