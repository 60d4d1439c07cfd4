// Package models defines GORM data models for bwrecord.
package models

import (
	"gorm.io/gorm"
)

// Record is the best-ever rate of one kind (up, dn or total) in KiB/s.
// Only the current maximum is kept; UpdatedAt is when it was set.
type Record struct {
	gorm.Model

	Name  string `gorm:"uniqueIndex;not null" json:"name"`
	Value int64  `gorm:"not null;default:0" json:"value"`
}
