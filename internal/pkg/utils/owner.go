package utils

import (
	"net/http"
	"strings"
)

// HeaderUserID is set by the identity gateway in front of public services
const HeaderUserID = "x-user-id"

// OwnerID returns authenticated principal of the request, empty if none
func OwnerID(h http.Header) string {
	return strings.TrimSpace(h.Get(HeaderUserID))
}
