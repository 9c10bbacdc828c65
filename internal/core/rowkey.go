package core

import "strconv"

// RowKey identifies a grid row. A row is either Identified by the id the
// store assigned to it, or Pending under a local key chosen by the client.
// The zero value is a Pending row with an empty local key.
type RowKey struct {
	id        int64
	local     string
	persisted bool
}

// Identified returns the key of a persisted row.
func Identified(id int64) RowKey {
	return RowKey{id: id, persisted: true}
}

// Pending returns the key of a row that has not been saved yet.
func Pending(localKey string) RowKey {
	return RowKey{local: localKey}
}

func (k RowKey) IsPending() bool {
	return !k.persisted
}

// ID returns the store id and true for Identified keys.
func (k RowKey) ID() (int64, bool) {
	return k.id, k.persisted
}

func (k RowKey) LocalKey() string {
	return k.local
}

func (k RowKey) String() string {
	if k.persisted {
		return "#" + strconv.FormatInt(k.id, 10)
	}
	return "pending:" + k.local
}
