package page

// Type identifies the current role of a page. A page has exactly one type
// at any time.
type Type uint8

const (
	TypeUnallocated Type = iota
	TypeHead
	TypeData
	TypeIndex
	TypeGarbage
	TypeLongRecord
)

func (t Type) String() string {
	switch t {
	case TypeUnallocated:
		return "Unallocated"
	case TypeHead:
		return "Head"
	case TypeData:
		return "Data"
	case TypeIndex:
		return "Index"
	case TypeGarbage:
		return "Garbage"
	case TypeLongRecord:
		return "LongRecord"
	default:
		return "Invalid"
	}
}

// Valid reports whether t is a known page type.
func (t Type) Valid() bool {
	return t <= TypeLongRecord
}
