package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusNotFound, "no such run")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "no such run" {
		t.Errorf("error = %q, want %q", resp["error"], "no such run")
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"frames": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["frames"] != 42 {
		t.Errorf("frames = %d, want 42", resp["frames"])
	}
}

func TestWriteJSON_Unencodable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, make(chan int))

	// The status is committed before encoding fails.
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestRequireMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		allowed []string
		want    bool
	}{
		{"match", http.MethodPost, []string{http.MethodPost}, true},
		{"one of several", http.MethodGet, []string{http.MethodPost, http.MethodGet}, true},
		{"mismatch", http.MethodGet, []string{http.MethodPost}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/", nil)
			if got := RequireMethod(rec, req, tt.allowed...); got != tt.want {
				t.Fatalf("RequireMethod = %v, want %v", got, tt.want)
			}
			if tt.want {
				return
			}
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
			if allow := rec.Header().Get("Allow"); allow != "POST" {
				t.Errorf("Allow = %q, want POST", allow)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		want    int
		wantErr bool
	}{
		{"/runs", 50, false},
		{"/runs?limit=7", 7, false},
		{"/runs?limit=-1", -1, false},
		{"/runs?limit=many", 0, true},
	}
	for _, tt := range tests {
		got, err := QueryInt(httptest.NewRequest(http.MethodGet, tt.url, nil), "limit", 50)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.url, got, tt.want)
		}
	}
}
