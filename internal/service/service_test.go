package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BuissonFlorent/LKIT/internal/model"
	"github.com/BuissonFlorent/LKIT/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createStore builds a record store on a fresh temporary directory and makes the endpoints use it.
func createStore(t *testing.T) *storage.Store {
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("an error '%s' was not expected when creating the record store", err)
	}
	SetupStorage(store)
	return store
}

// savePerson stores a person with conversations dated as given and returns its id.
func savePerson(t *testing.T, store *storage.Store, first string, last string, dates ...model.Date) int64 {
	person := model.Person{FirstName: first, LastName: last}
	var conversations []model.Conversation
	for _, d := range dates {
		conversations = append(conversations, model.Conversation{Date: d, Notes: "met " + first})
	}
	require.NoError(t, store.Save(&person, conversations))
	return person.Id
}

// initializeService returns a handle to the gin engine against which requests can be executed.
func initializeService() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return SetupHttpRouter(false)
}

// runTest executes the HTTP request with the specified arguments and returns the response.
func runTest(method string, url string, body *strings.Reader) *httptest.ResponseRecorder {
	router := initializeService()
	recorder := httptest.NewRecorder()
	if body == nil {
		body = strings.NewReader("")
	}
	request, _ := http.NewRequest(method, url, body)
	router.ServeHTTP(recorder, request)
	return recorder
}

// decodeList decodes a JSON list of persons from the response.
func decodeList(t *testing.T, recorder *httptest.ResponseRecorder) []map[string]interface{} {
	var persons []map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &persons))
	return persons
}

// firstNames extracts the first names of a decoded list of persons.
func firstNames(persons []map[string]interface{}) []string {
	names := make([]string, 0, len(persons))
	for _, p := range persons {
		names = append(names, p["first_name"].(string))
	}
	return names
}

// TestGetAll executes a GET request for all persons. It expects that the JSON for a list of
// persons without conversations is returned, sorted by id.
func TestGetAll(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "Aaron", "Alt", model.NewDate(2024, time.January, 1))
	savePerson(t, store, "Berta", "")
	savePerson(t, store, "", "Carla")

	recorder := runTest("GET", "/persons", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	persons := decodeList(t, recorder)
	require.Len(t, persons, 3)
	assert.Equal(t, 1.0, persons[0]["id"])
	assert.Equal(t, "Aaron Alt", persons[0]["full_name"])
	assert.Equal(t, "Berta", persons[1]["full_name"])
	assert.Equal(t, "Carla", persons[2]["full_name"])
	assert.NotContains(t, persons[0], "conversations")
	assert.Contains(t, persons[0], "email")
	assert.Nil(t, persons[0]["email"])
}

// TestGetAllEmpty expects an empty list rather than an error when no person is stored.
func TestGetAllEmpty(t *testing.T) {
	createStore(t)
	recorder := runTest("GET", "/persons", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, decodeList(t, recorder))
}

// TestGetAllSorted verifies the different sort orders.
func TestGetAllSorted(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "Carla", "Zapata", model.NewDate(2024, time.March, 1))
	savePerson(t, store, "adam", "Young")
	savePerson(t, store, "Berta", "Xavier", model.NewDate(2024, time.May, 1), model.NewDate(2023, time.May, 1))
	savePerson(t, store, "Dora", "Adams", model.NewDate(2022, time.January, 1))

	tests := []struct {
		query    string
		expected []string
	}{
		{"", []string{"Carla", "adam", "Berta", "Dora"}},
		{"?ascending=false", []string{"Dora", "Berta", "adam", "Carla"}},
		{"?orderby=name", []string{"adam", "Berta", "Carla", "Dora"}},
		{"?orderby=firstname&ascending=false", []string{"Dora", "Carla", "Berta", "adam"}},
		{"?orderby=lastname", []string{"Dora", "Berta", "adam", "Carla"}},
		{"?orderby=lastconversation", []string{"adam", "Dora", "Carla", "Berta"}},
		{"?orderby=lastconversation&ascending=false", []string{"Berta", "Carla", "Dora", "adam"}},
	}
	for _, tt := range tests {
		recorder := runTest("GET", "/persons"+tt.query, nil)
		assert.Equal(t, http.StatusOK, recorder.Code, "query: "+tt.query)
		assert.Equal(t, tt.expected, firstNames(decodeList(t, recorder)), "query: "+tt.query)
	}
}

// TestGetAllFilteredAndPaged verifies the name filters and paging.
func TestGetAllFilteredAndPaged(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "Julius", "Cäsar")
	savePerson(t, store, "Marc", "Anton")
	savePerson(t, store, "Julia", "Augusta")
	savePerson(t, store, "Junia", "Claudilla")

	tests := []struct {
		query    string
		expected []string
	}{
		{"?firstname=ju", []string{"Julius", "Julia", "Junia"}},
		{"?firstname=Jul&lastname=au", []string{"Julia"}},
		{"?lastname=nobody", []string{}},
		{"?limit=2", []string{"Julius", "Marc"}},
		{"?limit=2&offset=3", []string{"Junia"}},
		{"?offset=10", []string{}},
		{"?orderby=name&limit=1&offset=1", []string{"Julius"}},
	}
	for _, tt := range tests {
		recorder := runTest("GET", "/persons"+tt.query, nil)
		assert.Equal(t, http.StatusOK, recorder.Code, "query: "+tt.query)
		assert.Equal(t, tt.expected, firstNames(decodeList(t, recorder)), "query: "+tt.query)
	}
}

// TestGetAllInvalidParameters expects BAD REQUEST for every invalid URL parameter.
func TestGetAllInvalidParameters(t *testing.T) {
	createStore(t)
	invalidQueries := []string{
		"?limit=0",
		"?limit=many",
		"?offset=-1",
		"?offset=x",
		"?orderby=phone",
		"?ascending=yes",
	}
	for _, query := range invalidQueries {
		recorder := runTest("GET", "/persons"+query, nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "query: "+query)
	}
}

// TestGet executes a GET request for a single person with a valid ID. It expects that the JSON
// for the person is returned, with the conversations in reverse chronological order.
func TestGet(t *testing.T) {
	store := createStore(t)
	birthday := model.NewDate(1969, time.March, 2)
	person := model.Person{
		FirstName: "Erika",
		LastName:  "Mustermann",
		Phone:     model.String("+49 0815 4711"),
		BirthDate: &birthday,
	}
	require.NoError(t, store.Save(&person, []model.Conversation{
		{Date: model.NewDate(2023, time.June, 1), Notes: "old"},
		{Date: model.NewDate(2024, time.June, 1), Notes: "new"},
		{Date: model.NewDate(2023, time.June, 1), Notes: "old, added later"},
	}))

	recorder := runTest("GET", "/persons/1", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	var getBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &getBody))
	assert.Equal(t, 1.0, getBody["id"])
	assert.Equal(t, "Erika", getBody["first_name"])
	assert.Equal(t, "Mustermann", getBody["last_name"])
	assert.Equal(t, "Erika Mustermann", getBody["full_name"])
	assert.Equal(t, "+49 0815 4711", getBody["phone"])
	assert.Equal(t, "1969-03-02", getBody["birth_date"])
	assert.Nil(t, getBody["email"])
	conversations := getBody["conversations"].([]interface{})
	require.Len(t, conversations, 3)
	var notes []string
	for _, c := range conversations {
		conversation := c.(map[string]interface{})
		assert.Equal(t, 1.0, conversation["person_id"])
		notes = append(notes, conversation["notes"].(string))
	}
	assert.Equal(t, []string{"new", "old, added later", "old"}, notes)
}

// TestGetWithoutConversations expects an empty list of conversations rather than null.
func TestGetWithoutConversations(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "Erika", "Mustermann")

	recorder := runTest("GET", "/persons/1", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	var getBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &getBody))
	assert.Equal(t, []interface{}{}, getBody["conversations"])
}

// TestGetInvalidIDs executes GET requests with unknown or invalid IDs and expects NOT FOUND.
func TestGetInvalidIDs(t *testing.T) {
	createStore(t)
	for _, id := range []string{"9999", "0", "-3", "INVALID"} {
		recorder := runTest("GET", "/persons/"+id, nil)
		assert.Equal(t, http.StatusNotFound, recorder.Code, "id: "+id)
	}
}

// TestPost executes a POST request with a valid body. It expects that the HTTP request is answered
// with the CREATED status code and a body with the posted values and the first conversation.
func TestPost(t *testing.T) {
	store := createStore(t)

	recorder := runTest("POST", "/persons", strings.NewReader(`
		{
			"first_name": " Erika ",
			"last_name": "Mustermann",
			"email": "erika@example.com",
			"phone": "",
			"birth_date": "1969-03-04",
			"conversation": {"date": "2024-01-01", "notes": "First meeting"}
		}
	`))
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var postBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &postBody))
	assert.Equal(t, 1.0, postBody["id"])
	assert.Equal(t, "Erika", postBody["first_name"])
	assert.Equal(t, "erika@example.com", postBody["email"])
	assert.Nil(t, postBody["phone"])
	assert.Equal(t, "1969-03-04", postBody["birth_date"])
	conversations := postBody["conversations"].([]interface{})
	require.Len(t, conversations, 1)
	conversation := conversations[0].(map[string]interface{})
	assert.Equal(t, 1.0, conversation["id"])
	assert.Equal(t, 1.0, conversation["person_id"])
	assert.Equal(t, "2024-01-01", conversation["date"])
	assert.Equal(t, "First meeting", conversation["notes"])

	person, stored, err := store.Load(1)
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, "Erika Mustermann", person.FullName())
	assert.Len(t, stored, 1)
}

// TestPostConversationDefaults expects that a conversation without notes is not created, and that
// one without a date is dated today.
func TestPostConversationDefaults(t *testing.T) {
	store := createStore(t)

	recorder := runTest("POST", "/persons", strings.NewReader(`{"first_name": "Max", "conversation": {"notes": "  "}}`))
	assert.Equal(t, http.StatusCreated, recorder.Code)
	_, conversations, err := store.Load(1)
	require.NoError(t, err)
	assert.Empty(t, conversations)

	recorder = runTest("POST", "/persons", strings.NewReader(`{"first_name": "Moritz", "conversation": {"notes": "Hello"}}`))
	assert.Equal(t, http.StatusCreated, recorder.Code)
	_, conversations, err = store.Load(2)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, model.Today(), conversations[0].Date)
}

// TestPostInvalidBodies executes POST requests with invalid bodies. It expects that the HTTP
// requests are all answered with the BAD REQUEST status code and that nothing is stored.
func TestPostInvalidBodies(t *testing.T) {
	invalidRequestBodies := []string{
		"",
		"{}",
		"not JSON",
		`{"first_name": "   "}`,
		`{"first_name": "Erika", "birth_date": "02.03.1969"}`,
		`{
			"first_name": "Erika"
			"last_name": "Mustermann"
		}`, // commas missing
	}
	for _, body := range invalidRequestBodies {
		store := createStore(t)
		recorder := runTest("POST", "/persons", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "request body: "+body)
		persons, err := store.ListAll()
		require.NoError(t, err)
		assert.Empty(t, persons, "request body: "+body)
	}
}

// TestPut executes a PUT request with a valid ID and body. It expects that only the submitted
// values change and that the conversations are kept.
func TestPut(t *testing.T) {
	store := createStore(t)
	person := model.Person{FirstName: "Rudi", LastName: "Völler", Email: model.String("rudi@example.com")}
	require.NoError(t, store.Save(&person, []model.Conversation{model.NewConversation("kept")}))

	recorder := runTest("PUT", "/persons/1", strings.NewReader(`
		{
			"phone": "+49 1234567890",
			"birth_date": "1960-04-13",
			"email": "",
			"notes": "Likes football"
		}
	`))
	assert.Equal(t, http.StatusOK, recorder.Code)
	var putBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &putBody))
	assert.Equal(t, 1.0, putBody["id"])
	assert.Equal(t, "Rudi", putBody["first_name"])
	assert.Equal(t, "Völler", putBody["last_name"])
	assert.Equal(t, "+49 1234567890", putBody["phone"])
	assert.Equal(t, "1960-04-13", putBody["birth_date"])
	assert.Equal(t, "Likes football", putBody["notes"])
	assert.Nil(t, putBody["email"])

	loaded, conversations, err := store.Load(1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Likes football", *loaded.Notes)
	assert.Nil(t, loaded.Email)
	require.Len(t, conversations, 1)
	assert.Equal(t, "kept", conversations[0].Notes)
}

// TestPutUnknownID executes a PUT request for a person that does not exist. It expects NOT FOUND
// and that no file is created.
func TestPutUnknownID(t *testing.T) {
	store := createStore(t)
	for _, id := range []string{"9999", "INVALID"} {
		recorder := runTest("PUT", "/persons/"+id, strings.NewReader(`{"first_name": "Rudi"}`))
		assert.Equal(t, http.StatusNotFound, recorder.Code, "id: "+id)
	}
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestPutInvalidBodies executes PUT requests with valid IDs but invalid bodies. It expects that
// the HTTP requests are all answered with the BAD REQUEST status code.
func TestPutInvalidBodies(t *testing.T) {
	invalidRequestBodies := []string{
		"",
		"{}",
		"not JSON",
		`{"first_name": ""}`,
		`{"conversation": {"notes": "not accepted here"}}`,
	}
	store := createStore(t)
	savePerson(t, store, "Erika", "Mustermann")
	for _, body := range invalidRequestBodies {
		recorder := runTest("PUT", "/persons/1", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "request body: "+body)
	}
}

// TestAddConversation executes a POST request for a new conversation. It expects CREATED and the
// stored conversation with a fresh id.
func TestAddConversation(t *testing.T) {
	store := createStore(t)
	id := savePerson(t, store, "John", "Doe", model.Today())

	recorder := runTest("POST", "/persons/1/conversations", strings.NewReader(`{"date": "2024-02-29", "notes": "Follow-up meeting"}`))
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var postBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &postBody))
	assert.Equal(t, 2.0, postBody["id"])
	assert.Equal(t, 1.0, postBody["person_id"])
	assert.Equal(t, "2024-02-29", postBody["date"])
	assert.Equal(t, "Follow-up meeting", postBody["notes"])

	recorder = runTest("POST", "/persons/1/conversations", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusCreated, recorder.Code)

	_, conversations, err := store.Load(id)
	require.NoError(t, err)
	require.Len(t, conversations, 3)
	assert.Equal(t, model.Today(), conversations[2].Date)
	assert.Equal(t, "", conversations[2].Notes)
}

// TestAddConversationInvalid expects NOT FOUND for unknown persons and BAD REQUEST for invalid
// bodies.
func TestAddConversationInvalid(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "John", "Doe")

	recorder := runTest("POST", "/persons/2/conversations", strings.NewReader(`{"notes": "nobody"}`))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	_, err := os.Stat(filepath.Join(store.Dir(), "2.json"))
	assert.True(t, os.IsNotExist(err))

	for _, body := range []string{"", "not JSON", `{"date": "tomorrow"}`} {
		recorder := runTest("POST", "/persons/1/conversations", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "request body: "+body)
	}
}

// TestUpdateConversation executes a PUT request for a conversation and expects only that
// conversation to change.
func TestUpdateConversation(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "John", "Doe", model.NewDate(2024, time.January, 1), model.NewDate(2024, time.January, 2))

	recorder := runTest("PUT", "/persons/1/conversations/2", strings.NewReader(`{"notes": " edited "}`))
	assert.Equal(t, http.StatusOK, recorder.Code)
	var putBody map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &putBody))
	assert.Equal(t, 2.0, putBody["id"])
	assert.Equal(t, "edited", putBody["notes"])
	assert.Equal(t, "2024-01-02", putBody["date"])

	_, conversations, err := store.Load(1)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "met John", conversations[0].Notes)
	assert.Equal(t, "edited", conversations[1].Notes)
}

// TestUpdateConversationInvalid expects NOT FOUND for unknown persons or conversations and BAD
// REQUEST for invalid bodies.
func TestUpdateConversationInvalid(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "John", "Doe", model.NewDate(2024, time.January, 1))

	notFound := []string{"/persons/2/conversations/1", "/persons/1/conversations/2", "/persons/1/conversations/x"}
	for _, url := range notFound {
		recorder := runTest("PUT", url, strings.NewReader(`{"notes": "edited"}`))
		assert.Equal(t, http.StatusNotFound, recorder.Code, "url: "+url)
	}
	for _, body := range []string{"", "{}", "not JSON"} {
		recorder := runTest("PUT", "/persons/1/conversations/1", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, "request body: "+body)
	}

	_, conversations, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, "met John", conversations[0].Notes)
}

// TestRouterWithRequestLogging expects the router to serve the same endpoints whether request
// logging is turned on or off.
func TestRouterWithRequestLogging(t *testing.T) {
	store := createStore(t)
	savePerson(t, store, "John", "Doe")
	gin.SetMode(gin.ReleaseMode)
	for _, logging := range []bool{true, false} {
		router := SetupHttpRouter(logging)
		recorder := httptest.NewRecorder()
		request, _ := http.NewRequest("GET", "/persons/1", nil)
		router.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code, "request logging: %v", logging)
	}
}
