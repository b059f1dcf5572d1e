// Package token provides the credentials attached to outgoing stream and
// relay requests.
package token

// Provider is a generic interface for a service that provides the value
// of the Authorization header for the client to use.
type Provider interface {

	// Retrieves the current header value at the time - this may return a
	// fixed or cached value, or it may go and do some work to acquire the
	// latest valid credentials. An empty string means no header is sent.
	Authorization() string
}

// Bearer formats a bearer token as an Authorization header value.
func Bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
