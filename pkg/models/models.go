package models

import (
	"time"
)

// Book is a single catalog record. IsBorrowed is the only state flag;
// borrower identity is not tracked.
type Book struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Title           string `gorm:"not null;index"`
	Author          string `gorm:"not null"`
	PublicationDate string `gorm:"not null"`
	Edition         string `gorm:"not null"`
	IsBorrowed      bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BookInput carries the descriptive fields accepted on create and update.
type BookInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationDate string `json:"publication_date"`
	Edition         string `json:"edition"`
}

// SearchFilter narrows a catalog search. Empty fields impose no constraint.
type SearchFilter struct {
	Title           string `form:"title"`
	Author          string `form:"author"`
	PublicationDate string `form:"publication_date"`
	Edition         string `form:"edition"`
}

func (f SearchFilter) IsEmpty() bool {
	return f.Title == "" && f.Author == "" && f.PublicationDate == "" && f.Edition == ""
}
