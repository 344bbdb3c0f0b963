package settings

import (
	"strconv"
)

// TrustedOrigins expands every host into http and https origins, with and
// without the given port, keeping the first occurrence of each origin.
// A non-positive port falls back to DefaultOriginPort.
func TrustedOrigins(hosts []string, port int) []string {
	if port <= 0 {
		port = DefaultOriginPort
	}
	suffix := ":" + strconv.Itoa(port)

	seen := make(map[string]struct{}, len(hosts)*4)
	origins := make([]string, 0, len(hosts)*4)
	for _, origin := range expandOrigins(hosts, suffix) {
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}

func expandOrigins(hosts []string, portSuffix string) []string {
	out := make([]string, 0, len(hosts)*4)
	for _, host := range hosts {
		out = append(out,
			"http://"+host,
			"https://"+host,
			"http://"+host+portSuffix,
			"https://"+host+portSuffix,
		)
	}
	return out
}
