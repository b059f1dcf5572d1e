package client

import (
	"io"
	"net/http"
	"net/url"
)

type ContentType string

const (
	JSONContentType   ContentType = "application/json"
	NDJSONContentType ContentType = "application/x-ndjson"
)

// Request describes a single HTTP exchange. Method defaults to GET.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Values      url.Values
	ContentType ContentType
	Body        io.Reader
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// FullURL returns URL with Values merged into its query string.
func (r Request) FullURL() (string, error) {
	if len(r.Values) == 0 {
		return r.URL, nil
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, values := range r.Values {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
