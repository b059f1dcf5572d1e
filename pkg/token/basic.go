package token

import (
	"encoding/base64"
)

// Basic is a Provider for HTTP basic authentication.
type Basic struct {
	header string
}

func NewBasic(username, password string) *Basic {
	if username == "" {
		return &Basic{}
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &Basic{header: "Basic " + credentials}
}

func (b *Basic) Authorization() string {
	return b.header
}
