package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs":
			fmt.Fprint(w, `[{"id":"a","state":"completed","config":{"scenario":{"name":"s","patients":3,"beds":2},"solver":"enum","routing":"coupled"},"bestCost":12.5,"incumbents":2}]`)
		case "/api/v1/jobs/a":
			fmt.Fprint(w, `{"id":"a","state":"running","config":{"scenario":{"name":"s"},"timeLimitSeconds":60},"incumbents":1,"bestCost":99,"elapsed":1.5}`)
		case "/api/v1/jobs/broken":
			fmt.Fprint(w, `{not json`)
		default:
			http.Error(w, "Job not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := listJobs(srv.URL + "/api/v1/jobs"); err != nil {
		t.Errorf("listJobs failed: %v", err)
	}
	if err := getJobStatus(srv.URL+"/api/v1/jobs/a", "a"); err != nil {
		t.Errorf("getJobStatus failed: %v", err)
	}

	err := getJobStatus(srv.URL+"/api/v1/jobs/missing", "missing")
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Errorf("Expected job not found, got %v", err)
	}
	if err := getJobStatus(srv.URL+"/api/v1/jobs/broken", "broken"); err == nil {
		t.Error("Expected decode error")
	}
}
