package switcheffector

// Op is one operation inside an OVSDB transact request. Ordered op lists
// form a single transaction; inserts reference each other through named
// placeholders resolved by the switch at commit (RFC 7047 §5.2).
type Op struct {
	Op        string         `json:"op"`
	Table     string         `json:"table"`
	Where     *[]Condition   `json:"where,omitempty"`
	Row       map[string]any `json:"row,omitempty"`
	UUIDName  string         `json:"uuid-name,omitempty"`
	Mutations []Mutation     `json:"mutations,omitempty"`
}

// Condition is a [column, function, value] triple. Where clauses must be
// present (possibly empty) on select, mutate and delete, hence the pointer
// in Op.Where.
type Condition [3]any

// Mutation is a [column, mutator, value] triple.
type Mutation [3]any

// namedUUID wraps a placeholder name as the ["named-uuid", name] pair the
// wire format expects.
func namedUUID(name string) []any { return []any{"named-uuid", name} }

// realUUID wraps a concrete row id as ["uuid", id].
func realUUID(id string) []any { return []any{"uuid", id} }

func whereEq(column string, value any) *[]Condition {
	return &[]Condition{{column, "==", value}}
}

func whereAll() *[]Condition {
	return &[]Condition{}
}

// selectOp fetches every row of table matching the condition.
func selectOp(table string, where *[]Condition) Op {
	return Op{Op: "select", Table: table, Where: where}
}

// insertBridgeOps creates a bridge and appends it to the root table's
// bridge set in one transaction.
func insertBridgeOps(name string) []Op {
	return []Op{
		{
			Op:       "insert",
			Table:    "Bridge",
			Row:      map[string]any{"name": name},
			UUIDName: "new_bridge",
		},
		{
			Op:        "mutate",
			Table:     "Open_vSwitch",
			Where:     whereAll(),
			Mutations: []Mutation{{"bridges", "insert", namedUUID("new_bridge")}},
		},
	}
}

// deleteBridgeOps removes a bridge row and its reference from the root table.
func deleteBridgeOps(uuid string) []Op {
	return []Op{
		{
			Op:    "delete",
			Table: "Bridge",
			Where: whereEq("_uuid", realUUID(uuid)),
		},
		{
			Op:        "mutate",
			Table:     "Open_vSwitch",
			Where:     whereAll(),
			Mutations: []Mutation{{"bridges", "delete", realUUID(uuid)}},
		},
	}
}

// insertPortOps creates a port on bridge. A Port insert implies an
// Interface insert with the same name (type internal) plus a Bridge
// mutation appending the new port to the bridge's port set. A non-zero
// vlan becomes the port's tag; vlan zero leaves the port untagged.
func insertPortOps(bridge, port string, vlan uint32) []Op {
	row := map[string]any{
		"name":       port,
		"interfaces": namedUUID("new_interface"),
	}
	if vlan != 0 {
		row["tag"] = vlan
	}
	return []Op{
		{
			Op:       "insert",
			Table:    "Port",
			Row:      row,
			UUIDName: "new_port",
		},
		{
			Op:       "insert",
			Table:    "Interface",
			Row:      map[string]any{"name": port, "type": "internal"},
			UUIDName: "new_interface",
		},
		{
			Op:        "mutate",
			Table:     "Bridge",
			Where:     whereEq("name", bridge),
			Mutations: []Mutation{{"ports", "insert", namedUUID("new_port")}},
		},
	}
}

// deletePortOps emits the inverse of insertPortOps: drop the port from the
// bridge's port set, delete the interface, delete the port.
func deletePortOps(bridge, port, portUUID string) []Op {
	return []Op{
		{
			Op:        "mutate",
			Table:     "Bridge",
			Where:     whereEq("name", bridge),
			Mutations: []Mutation{{"ports", "delete", realUUID(portUUID)}},
		},
		{
			Op:    "delete",
			Table: "Interface",
			Where: whereEq("name", port),
		},
		{
			Op:    "delete",
			Table: "Port",
			Where: whereEq("_uuid", realUUID(portUUID)),
		},
	}
}
