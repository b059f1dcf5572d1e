package token

// StaticToken is a Provider wrapper for a fixed bearer token
type StaticToken struct {
	token string
}

func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: token}
}

func (t *StaticToken) Authorization() string {
	return Bearer(t.token)
}
