package checkout

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// FallbackLink builds a static payment link from a provider template. The
// quantity is a best-effort hint; the provider's hosted page decides the
// charged amount on this path.
func FallbackLink(template string, intent Intent) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return "", fmt.Errorf("%w: no fallback link for %s", ErrConfiguration, intent.fallbackTarget())
	}
	u, err := url.Parse(template)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("%w: fallback link for %s is not an absolute url", ErrConfiguration, intent.fallbackTarget())
	}

	q := u.Query()
	if intent.Kind == KindCredits && intent.Quantity > 0 {
		q.Set("quantity", strconv.Itoa(intent.Quantity))
	}
	if email := strings.TrimSpace(intent.Customer.Email); email != "" {
		q.Set("prefilled_email", email)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
