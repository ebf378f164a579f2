package drivesdk

import (
	"net/url"
	"strings"
)

// BuildFileURI turns a user-facing remote path into a drive URI against the
// caller's own filesystem, e.g. "/Work" -> "drive://my/Work".
func BuildFileURI(remotePath string) string {
	if strings.HasPrefix(remotePath, URIScheme) {
		return remotePath
	}
	path := strings.TrimSpace(remotePath)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return URIScheme + "my" + path
}

// JoinURI appends a relative path to a root URI.
func JoinURI(rootURI, relPath string) string {
	return strings.TrimRight(rootURI, "/") + "/" + strings.TrimLeft(relPath, "/")
}

// URIPath extracts the decoded path portion of a drive URI, dropping the
// scheme, authority and any query string.
func URIPath(uri string) string {
	cleaned := uri
	if idx := strings.IndexByte(cleaned, '?'); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	if rest, ok := strings.CutPrefix(cleaned, URIScheme); ok {
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			cleaned = rest[idx:]
		} else {
			cleaned = ""
		}
	}
	decoded, err := url.PathUnescape(cleaned)
	if err != nil {
		return cleaned
	}
	return decoded
}

// RelPath returns the path of uri relative to rootURI, with no leading slash.
// Returns the full path when uri is not under rootURI.
func RelPath(rootURI, uri string) string {
	root := URIPath(rootURI)
	path := URIPath(uri)
	rel := strings.TrimPrefix(path, root)
	return strings.TrimLeft(rel, "/")
}
