package analysis

import (
	"net/url"
	"strings"
)

// ResolveEndpoint turns an endpoint returned by the service into an absolute
// URL. Absolute URLs pass through; anything else is joined onto base with
// exactly one slash between them.
func ResolveEndpoint(base, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return endpoint
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func jobPath(jobID, suffix string) string {
	return "/api/jobs/" + url.PathEscape(jobID) + "/" + suffix
}
