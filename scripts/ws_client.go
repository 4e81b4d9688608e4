// Package main runs a demo WebSocket client that starts a search run and
// prints its progress events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	instance := "lc101.txt"
	if len(os.Args) > 1 {
		instance = os.Args[1]
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body, _ := json.Marshal(map[string]any{
		"instance": instance,
		"search":   map[string]any{"iterations": 2000},
	})
	resp, err := http.Post(base+"/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("create run: %s", resp.Status)
	}
	var created struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s", created.RunID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + created.RunID + "/stream"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	for {
		var evt event
		if err := c.ReadJSON(&evt); err != nil {
			log.Printf("read: %v", err)
			return
		}
		switch evt.Type {
		case "run.iteration":
			log.Printf("iter %v %-14v best=%v current=%v", evt.Data["iteration"], evt.Data["outcome"], evt.Data["bestCost"], evt.Data["currentCost"])
		case "run.finished":
			log.Printf("finished: status=%v best=%v routes=%v unserved=%v", evt.Data["status"], evt.Data["bestCost"], evt.Data["routes"], evt.Data["unserved"])
			return
		}
	}
}
