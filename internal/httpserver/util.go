package httpserver

import (
	"encoding/json"
	"net/http"
)

// maxRequestBytes bounds request bodies; checkout payloads are tiny.
const maxRequestBytes = 64 << 10

// decodeJSON decodes a bounded JSON request body into dest, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
