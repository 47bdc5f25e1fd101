package json

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize bounds request bodies decoded through this package.
const maxBodySize = 1 << 20

// DecodeBody decodes a JSON request body into dst. An empty body is decoded
// as the zero value rather than an error: several callers accept requests
// where every field is optional.
func DecodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse request body: %w", err)
	}
	return nil
}
