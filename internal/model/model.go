package model

import "strings"

// Person is the data structure for a person that we know.
// An Id of 0 means that the person has not been saved yet; the store assigns the Id on the first
// save. All fields with the exception of the names are optional.
type Person struct {
	Id        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	BirthDate *Date   `json:"birth_date"`
	Notes     *string `json:"notes"`
}

// FullName returns first name and last name joined by a single space. Empty parts are skipped, so
// a person without a last name is displayed with the first name only, and vice versa.
func (p Person) FullName() string {
	parts := make([]string, 0, 2)
	if p.FirstName != "" {
		parts = append(parts, p.FirstName)
	}
	if p.LastName != "" {
		parts = append(parts, p.LastName)
	}
	return strings.Join(parts, " ")
}

// Conversation is a dated note attached to exactly one person.
// The Id is unique within the conversations of one person only. PersonId is always overwritten by
// the store with the Id of the owning person.
type Conversation struct {
	Id       int64  `json:"id"`
	PersonId int64  `json:"person_id"`
	Date     Date   `json:"date"`
	Notes    string `json:"notes"`
}

// NewConversation returns an unsaved conversation with the given notes, dated today.
func NewConversation(notes string) Conversation {
	return Conversation{Date: Today(), Notes: notes}
}

// String returns a pointer to s. Handy for filling the optional fields of a person.
func String(s string) *string {
	return &s
}
