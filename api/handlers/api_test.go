package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var a App

func executeRequest(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	return rr
}

func checkResponseCode(t *testing.T, expected, actual int) {
	if expected != actual {
		t.Errorf("Expected response code %d. Got %d\n", expected, actual)
	}
}

func TestUnknownRoute(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/asdf", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusNotFound, response.Code)
}

func TestHealthCheckRoute(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/health", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusOK, response.Code)

	if !strings.Contains(response.Body.String(), "alive") {
		t.Errorf("Expected 'alive' in the reponse. Got '%s'", response.Body.String())
	}
}

func TestApp_TransitionHandlerUnauthorized(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("PUT", "/api/v1/issue/CIV-1/status", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestApp_DepartmentHandlerUnauthorized(t *testing.T) {
	a.Router = a.New()
	req, _ := http.NewRequest("POST", "/api/v1/department", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestGetPage(t *testing.T) {
	req, _ := http.NewRequest("GET", "/api/v1/issues?page=3", nil)
	if got := getPage(req); got != 3 {
		t.Errorf("Expected page 3. Got %d\n", got)
	}

	req, _ = http.NewRequest("GET", "/api/v1/issues", nil)
	if got := getPage(req); got != 0 {
		t.Errorf("Expected default page 0. Got %d\n", got)
	}

	req, _ = http.NewRequest("GET", "/api/v1/issues?page=-2", nil)
	if got := getPage(req); got != 0 {
		t.Errorf("Expected negative page to clamp to 0. Got %d\n", got)
	}
}
