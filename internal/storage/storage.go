// Package storage persists persons together with their conversations as one JSON file per person.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BuissonFlorent/LKIT/internal/model"
)

// ErrNotFound is returned when there is no record for a person id.
var ErrNotFound = errors.New("storage: person not found")

// ErrMalformedRecord is returned when a person file does not parse into the expected shape.
var ErrMalformedRecord = errors.New("storage: malformed person record")

// personsDir is the name of the sub-directory of the base directory holding the person files.
const personsDir = "persons"

// fileExtension is the extension of every person file.
const fileExtension = ".json"

// Store is the record store for persons and their conversations. Each person is stored in its own
// file named after the person id, e.g. "42.json". All methods are safe for concurrent use within
// one process; there is no protection against other processes writing the same directory.
type Store struct {
	dir    string
	mu     sync.Mutex
	nextId int64
}

// NewStore creates the persons directory below baseDir if necessary and returns a store for it.
// The next person id is one more than the largest id found on disk, or 1 for an empty directory.
func NewStore(baseDir string) (*Store, error) {
	dir := filepath.Join(baseDir, personsDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
	}
	s := &Store{dir: dir}
	ids, err := s.personIds()
	if err != nil {
		return nil, err
	}
	var maxId int64
	for _, id := range ids {
		maxId = max(maxId, id)
	}
	s.nextId = maxId + 1
	return s, nil
}

// Dir returns the directory that holds the person files.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the person and the full list of its conversations, replacing any previous version.
//
// A person without an id gets the next free id. Every conversation without an id gets one more
// than the largest conversation id in the list; for a list that was never shortened that is its
// position plus one. After a deletion it is not: for [{Id: 5}, {}] the new conversation gets 6,
// not its position plus one (2), so it cannot collide with a surviving id. The PersonId of every
// conversation is set to the id of the person, and a conversation without a date is dated today.
// All assignments are visible to the caller through the passed person and slice.
//
// A birth date or conversation date that is not a real calendar day is rejected before anything
// is assigned or written, since the file could not be loaded again.
func (s *Store) Save(person *model.Person, conversations []model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(person, conversations)
}

func (s *Store) save(person *model.Person, conversations []model.Conversation) error {
	if person.Id < 0 {
		return fmt.Errorf("storage: invalid person id %d", person.Id)
	}
	if err := checkDates(person, conversations); err != nil {
		return err
	}
	if person.Id == 0 {
		person.Id = s.nextId
		s.nextId++
	} else if person.Id >= s.nextId {
		s.nextId = person.Id + 1
	}
	assignConversationIds(person.Id, conversations)

	data, err := encodeRecord(person, conversations)
	if err != nil {
		return fmt.Errorf("storage: encode person %d: %w", person.Id, err)
	}
	return writeFileAtomic(s.path(person.Id), data)
}

// checkDates rejects dates that would not read back and then dates every undated conversation
// today. Nothing is changed if an error is returned.
func checkDates(person *model.Person, conversations []model.Conversation) error {
	if person.BirthDate != nil && !person.BirthDate.Valid() {
		return fmt.Errorf("storage: invalid birth date %+v", *person.BirthDate)
	}
	for i, c := range conversations {
		if !c.Date.IsZero() && !c.Date.Valid() {
			return fmt.Errorf("storage: invalid date %+v of conversation %d", c.Date, i)
		}
	}
	for i := range conversations {
		if conversations[i].Date.IsZero() {
			conversations[i].Date = model.Today()
		}
	}
	return nil
}

// assignConversationIds gives every conversation without an id a fresh one and ties all of them
// to the person.
func assignConversationIds(personId int64, conversations []model.Conversation) {
	var highest int64
	for _, c := range conversations {
		highest = max(highest, c.Id)
	}
	for i := range conversations {
		if conversations[i].Id == 0 {
			highest++
			conversations[i].Id = highest
		}
		conversations[i].PersonId = personId
	}
}

// Load returns the person with the given id and its conversations in the order they were saved.
// If there is no such person, or its file is malformed, Load returns a nil person and a nil error.
// An error is only returned if the file exists but cannot be read.
func (s *Store) Load(personId int64) (*model.Person, []model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, conversations, err := s.load(personId)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, nil
	}
	if errors.Is(err, ErrMalformedRecord) {
		slog.Warn("storage: treating malformed person record as missing", "id", personId, "err", err)
		return nil, nil, nil
	}
	return person, conversations, err
}

func (s *Store) load(personId int64) (*model.Person, []model.Conversation, error) {
	if personId <= 0 {
		return nil, nil, ErrNotFound
	}
	path := s.path(personId)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	person, conversations, err := decodeRecord(personId, data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return person, conversations, nil
}

// AddConversation appends the conversation to the conversations of the person and saves the
// person. It returns the conversation as stored, with its id and person id assigned. If the person
// does not exist, ErrNotFound is returned and nothing is written.
func (s *Store) AddConversation(personId int64, conversation model.Conversation) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	person, conversations, err := s.load(personId)
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			slog.Warn("storage: cannot add conversation to malformed person record", "id", personId, "err", err)
			return model.Conversation{}, fmt.Errorf("%w: %d", ErrNotFound, personId)
		}
		if errors.Is(err, ErrNotFound) {
			return model.Conversation{}, fmt.Errorf("%w: %d", ErrNotFound, personId)
		}
		return model.Conversation{}, err
	}
	conversation.Id = 0
	conversations = append(conversations, conversation)
	if err := s.save(person, conversations); err != nil {
		return model.Conversation{}, err
	}
	return conversations[len(conversations)-1], nil
}

// Modify loads the person, hands it and its conversations to change, and saves whatever change
// returns. The whole sequence runs under the store lock, so no other call can interleave. If change
// returns an error nothing is written and the error is passed through. ErrNotFound is returned for
// a missing or malformed person.
func (s *Store) Modify(personId int64, change func(person *model.Person, conversations []model.Conversation) ([]model.Conversation, error)) (*model.Person, []model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	person, conversations, err := s.load(personId)
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %d", ErrNotFound, personId)
		}
		return nil, nil, err
	}
	conversations, err = change(person, conversations)
	if err != nil {
		return nil, nil, err
	}
	person.Id = personId
	if err := s.save(person, conversations); err != nil {
		return nil, nil, err
	}
	return person, conversations, nil
}

// ListAll returns every stored person without conversations, in directory order. Records that
// cannot be read or parsed are skipped with a warning so that one bad file does not hide all the
// others. Only a failure to read the directory itself is returned as an error.
func (s *Store) ListAll() ([]model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.personIds()
	if err != nil {
		return nil, err
	}
	persons := make([]model.Person, 0, len(ids))
	for _, id := range ids {
		person, _, err := s.load(id)
		if err != nil {
			slog.Warn("storage: skipping person record", "id", id, "err", err)
			continue
		}
		persons = append(persons, *person)
	}
	return persons, nil
}

// path returns the file path for a person id.
func (s *Store) path(personId int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(personId, 10)+fileExtension)
}

// personIds returns the ids of all person files in directory order. Files that do not follow the
// naming scheme are ignored.
func (s *Store) personIds() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", s.dir, err)
	}
	var ids []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := idFromFileName(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// idFromFileName extracts the person id from a file name like "42.json".
func idFromFileName(name string) (int64, bool) {
	stem, found := strings.CutSuffix(name, fileExtension)
	if !found || stem == "" {
		return 0, false
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeFileAtomic writes data to a temporary file next to path, flushes it to disk and renames it
// into place, so that a crash leaves either the old or the new contents behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: rename %s: %w", path, err)
	}
	return nil
}

func writeAndSync(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
