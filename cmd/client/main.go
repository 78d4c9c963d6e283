package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

type Person struct {
	Id        int64  `json:"id"`
	FirstName string `json:"first_name"`
}

var serverPort int

// Usage example on the command line:
// > go run main.go -port=8080
//
// The service should run on a scratch data directory, since every run adds persons.
func main() {
	flag.IntVar(&serverPort, "port", 8080, "the port of the running service")
	flag.Parse()

	fmt.Println()
	fmt.Println("  Elements      POST  POST/conv       GET       PUT ")
	fmt.Println("---------------------------------------------------")
	sizes := []int{100, 500, 1000, 5000}
	personBody := []byte(`{
		"first_name": "Marcus",
		"last_name": "Antonius",
		"phone": "+39 999 777 555",
		"birth_date": "0027-11-09"
	}`)
	conversationBody := []byte(`{"notes": "Talked about Egypt"}`)
	updateBody := []byte(`{"notes": "Friend of Cleopatra"}`)
	for _, loops := range sizes {
		ids := make([]int64, 0, loops)
		fmt.Printf("%10d", loops)
		{
			// POST requests for persons
			var duration int64
			for i := 0; i < loops; i++ {
				id, d := sendPostRequest(bytes.NewReader(personBody))
				ids = append(ids, id)
				duration += d
			}
			fmt.Printf("%10d", duration/int64(loops*1000))
		}
		{
			// POST requests for conversations
			f := func(id int64) int64 {
				url := fmt.Sprintf("http://localhost:%d/persons/%d/conversations", serverPort, id)
				_, d := sendRequest(http.MethodPost, url, bytes.NewReader(conversationBody))
				return d
			}
			callInLoop(ids, f)
		}
		{
			// GET requests
			f := func(id int64) int64 {
				return sendPutGetRequest(id, http.MethodGet, nil)
			}
			callInLoop(ids, f)
		}
		{
			// PUT requests
			f := func(id int64) int64 {
				return sendPutGetRequest(id, http.MethodPut, bytes.NewReader(updateBody))
			}
			callInLoop(ids, f)
		}
		fmt.Println()
	}
}

func callInLoop(ids []int64, f func(id int64) int64) {
	shuffled := make([]int64, len(ids))
	copy(shuffled, ids)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var duration int64
	for _, id := range shuffled {
		d := f(id)
		duration += d
	}
	fmt.Printf("%10d", duration/int64(len(ids)*1000))
}

func sendPostRequest(bodyReader io.Reader) (int64, int64) {
	requestURL := fmt.Sprintf("http://localhost:%d/persons", serverPort)
	resBody, duration := sendRequest(http.MethodPost, requestURL, bodyReader)
	var person Person
	err := json.Unmarshal(resBody, &person)
	if err != nil {
		fmt.Println("could not unmarshal JSON", err)
		panic(err)
	}
	return person.Id, duration
}

func sendPutGetRequest(id int64, method string, bodyReader io.Reader) int64 {
	requestURL := fmt.Sprintf("http://localhost:%d/persons/%d", serverPort, id)
	_, duration := sendRequest(method, requestURL, bodyReader)
	return duration
}

func sendRequest(method string, requestURL string, bodyReader io.Reader) ([]byte, int64) {
	req, err := http.NewRequest(method, requestURL, bodyReader)
	if err != nil {
		fmt.Println("could not create request", err)
		panic(err)
	}
	req.Header.Set("Content-Type", "application/json")
	before := time.Now().UnixNano()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("error making http request", err)
		panic(err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Println("could not read response body", err)
		panic(err)
	}
	after := time.Now().UnixNano()
	return resBody, after - before
}
