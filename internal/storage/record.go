package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BuissonFlorent/LKIT/internal/model"
)

// record is the on-disk shape of a person file. The person id of the conversations is implied by
// the enclosing document and therefore not stored.
type record struct {
	Id            int64                `json:"id"`
	FirstName     *string              `json:"first_name"`
	LastName      *string              `json:"last_name"`
	Email         *string              `json:"email"`
	Phone         *string              `json:"phone"`
	BirthDate     *model.Date          `json:"birth_date"`
	Notes         *string              `json:"notes"`
	Conversations []conversationRecord `json:"conversations"`
}

type conversationRecord struct {
	Id    int64       `json:"id"`
	Date  *model.Date `json:"date"`
	Notes string      `json:"notes"`
}

// encodeRecord serializes a person and its conversations as indented JSON.
func encodeRecord(person *model.Person, conversations []model.Conversation) ([]byte, error) {
	r := record{
		Id:            person.Id,
		FirstName:     &person.FirstName,
		LastName:      &person.LastName,
		Email:         person.Email,
		Phone:         person.Phone,
		BirthDate:     person.BirthDate,
		Notes:         person.Notes,
		Conversations: make([]conversationRecord, 0, len(conversations)),
	}
	for _, c := range conversations {
		date := c.Date
		r.Conversations = append(r.Conversations, conversationRecord{Id: c.Id, Date: &date, Notes: c.Notes})
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord parses the contents of the file for personId. Every returned conversation carries
// personId, whatever the file says.
func decodeRecord(personId int64, data []byte) (*model.Person, []model.Conversation, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.Id != personId {
		return nil, nil, fmt.Errorf("%w: id %d stored in the file of person %d", ErrMalformedRecord, r.Id, personId)
	}
	if r.FirstName == nil || r.LastName == nil {
		return nil, nil, fmt.Errorf("%w: name missing", ErrMalformedRecord)
	}

	person := &model.Person{
		Id:        r.Id,
		FirstName: *r.FirstName,
		LastName:  *r.LastName,
		Email:     r.Email,
		Phone:     r.Phone,
		BirthDate: r.BirthDate,
		Notes:     r.Notes,
	}
	conversations := make([]model.Conversation, 0, len(r.Conversations))
	for i, c := range r.Conversations {
		if c.Date == nil {
			return nil, nil, fmt.Errorf("%w: conversation %d has no date", ErrMalformedRecord, i)
		}
		conversations = append(conversations, model.Conversation{
			Id:       c.Id,
			PersonId: person.Id,
			Date:     *c.Date,
			Notes:    c.Notes,
		})
	}
	return person, conversations, nil
}
