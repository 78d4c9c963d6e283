// Package importer copies the contacts of the MySQL based contacts service into the record store.
package importer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/BuissonFlorent/LKIT/internal/config"
	"github.com/BuissonFlorent/LKIT/internal/model"
	"github.com/BuissonFlorent/LKIT/internal/storage"
)

// Contact is a row of the contacts table of the contacts service.
// All fields with the exception of the Id field are optional.
type Contact struct {
	Id        int64      `db:"id"`
	FirstName *string    `db:"firstname"`
	LastName  *string    `db:"lastname"`
	Phone     *string    `db:"phone"`
	Birthday  *time.Time `db:"birthday"`
}

// Result counts what an import did.
type Result struct {
	Imported int
	Skipped  int
}

// OpenDatabase opens the contacts service database described by cfg.
func OpenDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open contacts database: %w", err)
	}
	return db, nil
}

// Import saves every contact of the database as a new person. If a person with the same full name
// is already present then the contact is not added again, so running the import twice is
// harmless. Contacts without any name are skipped as well.
func Import(db *sqlx.DB, store *storage.Store) (Result, error) {
	var result Result
	var contacts []Contact
	if err := db.Select(&contacts, "SELECT * FROM contacts ORDER BY id"); err != nil {
		return result, fmt.Errorf("select contacts: %w", err)
	}

	persons, err := store.ListAll()
	if err != nil {
		return result, err
	}
	known := make(map[string]bool, len(persons))
	for _, p := range persons {
		known[nameKey(p)] = true
	}

	for _, contact := range contacts {
		person := toPerson(contact)
		key := nameKey(person)
		if person.FullName() == "" {
			slog.Warn("importer: skipping contact without name", "contact", contact.Id)
			result.Skipped++
			continue
		}
		if known[key] {
			slog.Info("importer: skipping contact that is already present", "contact", contact.Id, "name", person.FullName())
			result.Skipped++
			continue
		}
		if err := store.Save(&person, nil); err != nil {
			return result, fmt.Errorf("save contact %d: %w", contact.Id, err)
		}
		known[key] = true
		result.Imported++
	}
	return result, nil
}

// toPerson maps a contact onto an unsaved person.
func toPerson(contact Contact) model.Person {
	var person model.Person
	if contact.FirstName != nil {
		person.FirstName = strings.TrimSpace(*contact.FirstName)
	}
	if contact.LastName != nil {
		person.LastName = strings.TrimSpace(*contact.LastName)
	}
	if contact.Phone != nil && strings.TrimSpace(*contact.Phone) != "" {
		person.Phone = model.String(strings.TrimSpace(*contact.Phone))
	}
	if contact.Birthday != nil {
		birthDate := model.DateOf(contact.Birthday.UTC())
		person.BirthDate = &birthDate
	}
	return person
}

// nameKey identifies a person by name, ignoring case.
func nameKey(person model.Person) string {
	return strings.ToLower(person.FullName())
}
