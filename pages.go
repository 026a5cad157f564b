package piping

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

const indexPage = `<html>
<head>
  <title>Piping</title>
  <meta name="viewport" content="width=device-width,initial-scale=1">
</head>
<body>
  <h1>Piping</h1>
  Streaming data transfer server over pure HTTP.
  <h3>Usage</h3>
  Send: <code>curl -T myfile /mypath</code><br>
  Get : <code>curl /mypath</code><br>
  <h3>Links</h3>
  <a href="/help">/help</a> shows complete usage for this server.
</body>
</html>
`

// baseURL derives the external-facing base URL of the server: scheme from
// direct TLS or a forwarded proto header, host from the Host header.
func baseURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil || strings.Contains(req.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + req.Host
}

func helpPage(req *http.Request) string {
	base := baseURL(req)
	return fmt.Sprintf(`Help for piping-server %s
(Repository: https://github.com/dgherman/piping-server)

======= Get  =======
# Get data from "/mypath"
curl %s/mypath

======= Send =======
# Send a file
curl -T myfile %s/mypath

# Send a text
echo 'hello!' | curl -T - %s/mypath

# Send a directory (zip)
zip -q -r - ./mydir | curl -T - %s/mypath

# Send a directory (tar.gz)
tar zfcp - ./mydir | curl -T - %s/mypath

# Encryption
## Send
cat myfile | openssl aes-256-cbc | curl -T - %s/mypath
## Get
curl %s/mypath | openssl aes-256-cbc -d
`, Version, base, base, base, base, base, base, base)
}

// servePage serves the reserved paths: landing page, version, help and the
// no-content endpoints browsers probe for.
func (relay *Relay) servePage(w http.ResponseWriter, req *http.Request, reqPath string) {
	switch reqPath {
	case "/":
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, indexPage)
	case "/version":
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, Version+"\n")
	case "/help":
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, helpPage(req))
	case "/favicon.ico":
		w.WriteHeader(http.StatusNoContent)
	case "/robots.txt":
		http.NotFound(w, req)
	}
}
