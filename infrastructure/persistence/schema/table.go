package schema

// DefaultGSI1Name is the name of the overloaded secondary index.
const DefaultGSI1Name = "GSI1"

// Table describes the single-table layout.
type Table struct {
	Name         string   `json:"name"`
	PartitionKey KeyDef   `json:"partitionKey"`
	SortKey      *KeyDef  `json:"sortKey,omitempty"`
	GSIs         []GSI    `json:"gsis,omitempty"`
	Entities     []Entity `json:"entities,omitempty"`
}

// KeyDef describes a key attribute definition.
type KeyDef struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "S", "N", or "B"
}

// GSI describes a global secondary index. All attributes are projected.
type GSI struct {
	Name         string  `json:"name"`
	PartitionKey KeyDef  `json:"partitionKey"`
	SortKey      *KeyDef `json:"sortKey,omitempty"`
}

// Entity describes an item type stored in the table.
type Entity struct {
	Type                string      `json:"type"`
	PartitionKeyPattern string      `json:"partitionKeyPattern"`
	SortKeyPattern      string      `json:"sortKeyPattern"`
	GSIMapping          *GSIMapping `json:"gsiMapping,omitempty"`
	Immutable           bool        `json:"immutable,omitempty"`
}

// GSIMapping describes how an entity maps to a GSI.
type GSIMapping struct {
	GSI              string `json:"gsi"`
	PartitionPattern string `json:"partitionPattern"`
	SortPattern      string `json:"sortPattern"`
}

// Layout returns the table description for the given table and index names.
func Layout(tableName, gsi1Name string) Table {
	if gsi1Name == "" {
		gsi1Name = DefaultGSI1Name
	}
	str := func(name string) KeyDef { return KeyDef{Name: name, Kind: "S"} }
	sk := str(AttrSK)
	gsiSK := str(AttrGSI1SK)

	return Table{
		Name:         tableName,
		PartitionKey: str(AttrPK),
		SortKey:      &sk,
		GSIs: []GSI{
			{Name: gsi1Name, PartitionKey: str(AttrGSI1PK), SortKey: &gsiSK},
		},
		Entities: []Entity{
			{Type: "Institution", PartitionKeyPattern: "INST#{institutionId}", SortKeyPattern: SKMetadata},
			{
				Type: "User", PartitionKeyPattern: "USER#{userId}", SortKeyPattern: SKProfile,
				GSIMapping: &GSIMapping{GSI: gsi1Name, PartitionPattern: "INST#{institutionId}#USERS", SortPattern: "USER#{userId}"},
			},
			{Type: "Patient", PartitionKeyPattern: "INST#{institutionId}", SortKeyPattern: "PATIENT#{patientId}"},
			{Type: "CPFGuard", PartitionKeyPattern: "INST#{institutionId}", SortKeyPattern: "CPF#{cpf}", Immutable: true},
			{Type: "Evaluation", PartitionKeyPattern: "PATIENT#{patientId}", SortKeyPattern: "EVAL#{token}"},
			{Type: "SupersedeGuard", PartitionKeyPattern: "PATIENT#{patientId}", SortKeyPattern: "SUPERSEDED#{evaluationId}", Immutable: true},
			{Type: "Sequence", PartitionKeyPattern: "{partition}", SortKeyPattern: SKSequence},
			{
				Type: "AuditEntry", PartitionKeyPattern: "PATIENT#{patientId} | INST#{institutionId}", SortKeyPattern: "AUDIT#{token}",
				GSIMapping: &GSIMapping{GSI: gsi1Name, PartitionPattern: "PERFORMER#{userId}", SortPattern: "{partition}#AUDIT#{token}"},
				Immutable:  true,
			},
		},
	}
}

// Index returns the GSI with the given name.
func (t Table) Index(name string) (GSI, bool) {
	for _, g := range t.GSIs {
		if g.Name == name {
			return g, true
		}
	}
	return GSI{}, false
}
