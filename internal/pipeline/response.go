package pipeline

import (
	"encoding/json"
	"fmt"
)

// errorResponseBody is the machine-readable JSON body of a synthesized
// failure response.
type errorResponseBody struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// errorResponse builds the minimal protocol-correct HTTP/1.1 response the
// failure path writes before closing a still-writable connection. Framing
// and size violations answer 413 (the payload could not be framed within
// the chunk budget); every other failure answers 500.
func errorResponse(cerr *ConnError) []byte {
	status := "500 Internal Server Error"
	if cerr.Kind == KindFramingViolation {
		status = "413 Payload Too Large"
	}

	reason := cerr.Error()
	body, err := json.Marshal(errorResponseBody{Error: true, Reason: reason})
	if err != nil {
		// Marshalling a two-field struct of bool and string cannot fail;
		// keep a fallback body anyway so the response stays well-formed.
		body = []byte(`{"error":true,"reason":"internal error"}`)
	}

	head := fmt.Sprintf(
		"HTTP/1.1 %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, len(body))
	return append([]byte(head), body...)
}
