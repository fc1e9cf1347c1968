package models

// Sequence is a named monotonic counter row used by the database-backed
// sequence allocator.
type Sequence struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value int64  `gorm:"not null;default:0"`
}
