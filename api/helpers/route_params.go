package helpers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

// GetStrParam fetches a parameter from the route variables and writes a
// bad request state when it is missing or empty.
func GetStrParam(name string, w http.ResponseWriter, r *http.Request) (string, error) {
	strParam, ok := mux.Vars(r)[name]

	if !ok || strParam == "" {
		WriteErrorStatus(w, "parameter "+name+" is missing", http.StatusBadRequest)
		return "", fmt.Errorf("parameter missed")
	}

	return strParam, nil
}

func HasParam(name string, r *http.Request) bool {
	_, ok := mux.Vars(r)[name]
	return ok
}

// QueryParam returns the first value of a query string parameter.
func QueryParam(u *url.URL, name string) string {
	return u.Query().Get(name)
}
