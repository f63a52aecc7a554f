// ABOUTME: Constructs the production SSRF-safe HTTP client for gateway calls.
// ABOUTME: Uses doyensec/safeurl with redirect following disabled.
package messenger

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// BuildSafeClient returns an SSRF-safe *http.Client for automation gateway
// calls. Redirect following is disabled; the timeout bounds a full
// browser-automation send so a hung session cannot starve a worker slot.
func BuildSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}).
		Build()
	return safeurl.Client(cfg).Client
}
