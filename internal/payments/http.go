package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// doJSON sends req and decodes a 2xx JSON body into out. Other statuses
// become a ProviderError holding the upstream body.
func doJSON(client *http.Client, req *http.Request, provider string, out any) error {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", provider)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", provider)
	}
	return nil
}
