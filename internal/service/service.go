package service

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/BuissonFlorent/LKIT/internal/model"
	"github.com/BuissonFlorent/LKIT/internal/storage"
	"github.com/gin-gonic/gin"
)

// records is a handle to the record store.
var records *storage.Store

// allowedOrderby are the allowed values for the 'orderby' URL parameter.
var allowedOrderby = []string{"id", "name", "firstname", "lastname", "lastconversation"}

// allowedAscending are the allowed values for the 'ascending' URL parameter.
var allowedAscending = []string{"true", "false"}

// errConversationNotFound is returned from a modification when the conversation id is unknown.
var errConversationNotFound = errors.New("conversation not found")

// personSummary is a person as it appears in listings.
type personSummary struct {
	model.Person
	FullName string `json:"full_name"`
}

// personDetails is a person together with all of its conversations.
type personDetails struct {
	model.Person
	FullName      string               `json:"full_name"`
	Conversations []model.Conversation `json:"conversations"`
}

// personRequest is the JSON accepted for creating and updating a person. Only non-null fields are
// applied on update. The conversation is only considered on creation.
type personRequest struct {
	FirstName    *string              `json:"first_name"`
	LastName     *string              `json:"last_name"`
	Email        *string              `json:"email"`
	Phone        *string              `json:"phone"`
	BirthDate    *model.Date          `json:"birth_date"`
	Notes        *string              `json:"notes"`
	Conversation *conversationRequest `json:"conversation"`
}

// conversationRequest is the JSON accepted for creating and updating a conversation.
type conversationRequest struct {
	Date  *model.Date `json:"date"`
	Notes *string     `json:"notes"`
}

// SetupStorage sets the record store that all endpoints work on.
func SetupStorage(store *storage.Store) {
	records = store
}

// SetupHttpRouter initializes the REST API router and registers all endpoints. Request logging can
// be turned off for benchmarks and tests.
func SetupHttpRouter(requestLogging bool) *gin.Engine {
	var router *gin.Engine
	if requestLogging {
		router = gin.Default()
	} else {
		router = gin.New()
		router.Use(gin.Recovery())
	}
	router.GET("/persons", findPersons)
	router.POST("/persons", createPerson)
	router.GET("/persons/:id", findPersonByID)
	router.PUT("/persons/:id", updatePersonByID)
	router.POST("/persons/:id/conversations", addConversation)
	router.PUT("/persons/:id/conversations/:cid", updateConversationByID)
	return router
}

// findPersons responds with a list of persons as JSON. Conversations are not part of the list.
//
// The URL parameters 'firstname' and 'lastname' are interpreted as the beginning of the first name
// or last name of the person, ignoring case.
//
// The URL parameter 'orderby' specifies the property by which the results shall be sorted. Valid
// values are 'id', 'name', 'firstname', 'lastname', and 'lastconversation'. The latter sorts by
// the date of the most recent conversation; persons without any conversation count as the oldest.
// If this URL parameter is not specified, the persons will be sorted by id.
//
// If the URL parameter 'ascending' is set to 'false' then the sort order is reversed.
//
// The URL parameters 'limit' and 'offset' page through the sorted result.
//
// REST API calls:
//
//	> curl "http://localhost:8080/persons"
//	> curl "http://localhost:8080/persons?lastname=Smi"
//	> curl "http://localhost:8080/persons?orderby=lastconversation&ascending=false"
//	> curl "http://localhost:8080/persons?limit=20&offset=60"
func findPersons(c *gin.Context) {
	first := strings.ToLower(c.Query("firstname"))
	last := strings.ToLower(c.Query("lastname"))
	limit, offset, successLimitAndOffset := parseLimitAndOffset(c)
	if !successLimitAndOffset {
		return
	}
	orderby, ascending, successOrderbyAndAscending := parseOrderbyAndAscending(c)
	if !successOrderbyAndAscending {
		return
	}

	persons, err := records.ListAll()
	if err != nil {
		respondStorageError(c, err)
		return
	}
	persons = slices.DeleteFunc(persons, func(p model.Person) bool {
		return !strings.HasPrefix(strings.ToLower(p.FirstName), first) ||
			!strings.HasPrefix(strings.ToLower(p.LastName), last)
	})

	var latest map[int64]model.Date
	if orderby == "lastconversation" {
		latest, err = latestConversationDates(persons)
		if err != nil {
			respondStorageError(c, err)
			return
		}
	}
	sortPersons(persons, orderby, ascending, latest)

	summaries := make([]personSummary, 0, len(persons))
	for i, p := range persons {
		if i < offset {
			continue
		}
		if len(summaries) == limit {
			break
		}
		summaries = append(summaries, summarize(p))
	}
	c.IndentedJSON(http.StatusOK, summaries)
}

// latestConversationDates returns the date of the most recent conversation for every person that
// has at least one.
func latestConversationDates(persons []model.Person) (map[int64]model.Date, error) {
	latest := make(map[int64]model.Date, len(persons))
	for _, p := range persons {
		_, conversations, err := records.Load(p.Id)
		if err != nil {
			return nil, err
		}
		for _, conversation := range conversations {
			if conversation.Date.After(latest[p.Id]) || latest[p.Id].IsZero() {
				latest[p.Id] = conversation.Date
			}
		}
	}
	return latest, nil
}

// sortPersons sorts the persons in place. Ties are broken by id.
func sortPersons(persons []model.Person, orderby string, ascending bool, latest map[int64]model.Date) {
	compare := func(a, b model.Person) int {
		var result int
		switch orderby {
		case "name":
			result = strings.Compare(strings.ToLower(a.FullName()), strings.ToLower(b.FullName()))
		case "firstname":
			result = strings.Compare(strings.ToLower(a.FirstName), strings.ToLower(b.FirstName))
		case "lastname":
			result = strings.Compare(strings.ToLower(a.LastName), strings.ToLower(b.LastName))
		case "lastconversation":
			result = compareDates(latest[a.Id], latest[b.Id])
		}
		if result == 0 {
			result = cmp.Compare(a.Id, b.Id)
		}
		if !ascending {
			result = -result
		}
		return result
	}
	slices.SortStableFunc(persons, compare)
}

// compareDates orders dates chronologically, with the zero date before every other date.
func compareDates(a, b model.Date) int {
	switch {
	case a == b:
		return 0
	case a.IsZero():
		return -1
	case b.IsZero():
		return 1
	case a.Before(b):
		return -1
	default:
		return 1
	}
}

// newestFirst returns the conversations in reverse chronological order. Conversations on the same
// day keep the order in which they were added, the most recently added first.
func newestFirst(conversations []model.Conversation) []model.Conversation {
	sorted := slices.Clone(conversations)
	slices.Reverse(sorted)
	slices.SortStableFunc(sorted, func(a, b model.Conversation) int {
		return compareDates(b.Date, a.Date)
	})
	if sorted == nil {
		sorted = []model.Conversation{}
	}
	return sorted
}

// parseLimitAndOffset inspects the URL parameters and determines values for limit and offset of
// the result set.
func parseLimitAndOffset(c *gin.Context) (limit int, offset int, success bool) {
	limit = -1
	if limitAsString := c.Query("limit"); limitAsString != "" {
		limitAsInt, errConv := strconv.Atoi(limitAsString)
		if errConv != nil || limitAsInt < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid limit parameter"})
			return 0, 0, false
		}
		limit = limitAsInt
	}
	if offsetAsString := c.Query("offset"); offsetAsString != "" {
		offsetAsInt, errConv := strconv.Atoi(offsetAsString)
		if errConv != nil || offsetAsInt < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid offset parameter"})
			return 0, 0, false
		}
		offset = offsetAsInt
	}
	return limit, offset, true
}

// parseOrderbyAndAscending inspects the URL parameters and determines values for the orderby and
// ascending values of the result set.
func parseOrderbyAndAscending(c *gin.Context) (orderby string, ascending bool, success bool) {
	orderby = c.Query("orderby")
	if orderby == "" {
		orderby = "id"
	}
	if !slices.Contains(allowedOrderby, orderby) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid orderby parameter"})
		return "", false, false
	}
	ascendingAsString := c.Query("ascending")
	if ascendingAsString == "" {
		ascendingAsString = "true"
	}
	if !slices.Contains(allowedAscending, ascendingAsString) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid ascending parameter"})
		return orderby, false, false
	}
	return orderby, ascendingAsString == "true", true
}

// createPerson stores the person specified in the request's JSON. If the JSON contains a
// conversation with notes, it becomes the first conversation of the person. It responds with the
// full person including the newly assigned id.
//
// Example REST API call:
//
//	> curl http://localhost:8080/persons --request "POST" --include --header "Content-Type: application/json" --data '{"first_name": "Hans", "last_name": "Wurst", "birth_date": "1969-03-02", "conversation": {"notes": "Met at the bakery"}}'
func createPerson(c *gin.Context) {
	var submitted personRequest
	if err := c.BindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if submitted.FirstName == nil || strings.TrimSpace(*submitted.FirstName) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "first_name is required"})
		return
	}

	var person model.Person
	applyPersonRequest(&person, submitted)
	var conversations []model.Conversation
	if cr := submitted.Conversation; cr != nil && cr.Notes != nil && strings.TrimSpace(*cr.Notes) != "" {
		conversation := model.NewConversation("")
		applyConversationRequest(&conversation, *cr)
		conversations = append(conversations, conversation)
	}
	if err := records.Save(&person, conversations); err != nil {
		respondStorageError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, details(person, conversations))
}

// findPersonByID locates the person whose ID value matches the id parameter of the request URL,
// then returns that person with its conversations, the most recent first.
//
// Example REST API call:
//
//	> curl http://localhost:8080/persons/56
func findPersonByID(c *gin.Context) {
	id, success := parseID(c, "id")
	if !success {
		return
	}
	person, conversations, err := records.Load(id)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	if person == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "person not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, details(*person, conversations))
}

// updatePersonByID updates the person whose ID value matches the id parameter of the request URL
// with the values specified in the JSON (and only those), and finally responds with the new
// version of the person. An empty string clears an optional field.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/persons/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"phone": "81970"}'
//	> curl http://localhost:8080/persons/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"notes": "Likes cycling"}'
func updatePersonByID(c *gin.Context) {
	id, success := parseID(c, "id")
	if !success {
		return
	}
	var submitted personRequest
	if errBind := c.BindJSON(&submitted); errBind != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}

	// It only makes sense to continue if we have at least one value to update.
	if submitted.FirstName == nil && submitted.LastName == nil && submitted.Email == nil &&
		submitted.Phone == nil && submitted.BirthDate == nil && submitted.Notes == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}
	if submitted.FirstName != nil && strings.TrimSpace(*submitted.FirstName) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "first_name must not be empty"})
		return
	}

	person, conversations, err := records.Modify(id, func(p *model.Person, cs []model.Conversation) ([]model.Conversation, error) {
		applyPersonRequest(p, submitted)
		return cs, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "person not found"})
		return
	}
	if err != nil {
		respondStorageError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, details(*person, conversations))
}

// addConversation appends the conversation specified in the request's JSON to the person whose ID
// matches the id parameter of the request URL. Without a date the conversation is dated today.
//
// Example REST API call:
//
//	> curl http://localhost:8080/persons/56/conversations --request "POST" --include --header "Content-Type: application/json" --data '{"date": "2024-05-01", "notes": "Talked about the garden"}'
func addConversation(c *gin.Context) {
	id, success := parseID(c, "id")
	if !success {
		return
	}
	var submitted conversationRequest
	if err := c.BindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	conversation := model.NewConversation("")
	applyConversationRequest(&conversation, submitted)

	stored, err := records.AddConversation(id, conversation)
	if errors.Is(err, storage.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "person not found"})
		return
	}
	if err != nil {
		respondStorageError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, stored)
}

// updateConversationByID changes notes and/or date of one conversation of a person and responds
// with the updated conversation.
//
// Example REST API call:
//
//	> curl http://localhost:8080/persons/56/conversations/2 --request "PUT" --include --header "Content-Type: application/json" --data '{"notes": "Talked about the garden and the dog"}'
func updateConversationByID(c *gin.Context) {
	id, success := parseID(c, "id")
	if !success {
		return
	}
	cid, success := parseID(c, "cid")
	if !success {
		return
	}
	var submitted conversationRequest
	if err := c.BindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if submitted.Notes == nil && submitted.Date == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}

	var updated model.Conversation
	_, _, err := records.Modify(id, func(_ *model.Person, cs []model.Conversation) ([]model.Conversation, error) {
		for i := range cs {
			if cs[i].Id == cid {
				applyConversationRequest(&cs[i], submitted)
				updated = cs[i]
				return cs, nil
			}
		}
		return nil, errConversationNotFound
	})
	if errors.Is(err, storage.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "person not found"})
		return
	}
	if errors.Is(err, errConversationNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "conversation not found"})
		return
	}
	if err != nil {
		respondStorageError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, updated)
}

// parseID reads a positive numeric URL parameter. Anything else is answered with NOT FOUND.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, errConv := strconv.ParseInt(c.Param(name), 10, 64)
	if errConv != nil || id < 1 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("invalid %s parameter", name)})
		return 0, false
	}
	return id, true
}

// applyPersonRequest copies all submitted values into the person. Names and texts are trimmed,
// and optional texts that end up empty are cleared.
func applyPersonRequest(person *model.Person, submitted personRequest) {
	if submitted.FirstName != nil {
		person.FirstName = strings.TrimSpace(*submitted.FirstName)
	}
	if submitted.LastName != nil {
		person.LastName = strings.TrimSpace(*submitted.LastName)
	}
	if submitted.Email != nil {
		person.Email = optional(*submitted.Email)
	}
	if submitted.Phone != nil {
		person.Phone = optional(*submitted.Phone)
	}
	if submitted.BirthDate != nil {
		birthDate := *submitted.BirthDate
		person.BirthDate = &birthDate
	}
	if submitted.Notes != nil {
		person.Notes = optional(*submitted.Notes)
	}
}

// applyConversationRequest copies all submitted values into the conversation.
func applyConversationRequest(conversation *model.Conversation, submitted conversationRequest) {
	if submitted.Date != nil {
		conversation.Date = *submitted.Date
	}
	if submitted.Notes != nil {
		conversation.Notes = strings.TrimSpace(*submitted.Notes)
	}
}

// optional returns nil for a blank text and the trimmed text otherwise.
func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func summarize(person model.Person) personSummary {
	return personSummary{Person: person, FullName: person.FullName()}
}

func details(person model.Person, conversations []model.Conversation) personDetails {
	return personDetails{Person: person, FullName: person.FullName(), Conversations: newestFirst(conversations)}
}

// respondStorageError logs a failure of the record store and answers with INTERNAL SERVER ERROR.
func respondStorageError(c *gin.Context, err error) {
	slog.Error("record store failure", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "storage failure"})
}
