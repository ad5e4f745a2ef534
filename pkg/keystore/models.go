package keystore

// Record holds a user's key material. Both sections are always present once
// a record exists; Public is readable by any authenticated caller while
// Private is returned only to the record's owner.
type Record struct {
	Public  map[string]any `json:"public"`
	Private map[string]any `json:"private"`
}

// Entity is the stored form of a record in the backing table. The sections
// are kept as JSON-encoded strings so the table schema stays a flat
// partition/row-key/value layout.
type Entity struct {
	Partition string
	RowKey    string
	Public    string
	Private   string
}
