package retrieval

import (
	"net/url"
	"path"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "utm_id": {}, "gclid": {}, "dclid": {}, "fbclid": {},
	"msclkid": {}, "igshid": {},
}

// urlKey reduces raw to the form used to detect an already indexed page:
// lowercase scheme and host, no default port, no fragment, no tracking
// parameters, sorted query. Unparseable input is returned trimmed.
func urlKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = strings.TrimPrefix(host, "www.")
	u.Fragment = ""
	u.RawFragment = ""

	p := path.Clean("/" + u.Path)
	if p == "/" {
		p = ""
	}
	u.Path, u.RawPath = p, ""

	q := u.Query()
	for k := range q {
		if _, drop := trackingParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
