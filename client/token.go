package client

// Token holds a registry authentication token. The zero value means no token.
//
// The secret is deliberately hidden from default formatting: fmt verbs print a
// redacted placeholder, and the raw value is only readable through Expose.
type Token struct {
	value string
	set   bool
}

// NewToken wraps a raw token value.
func NewToken(value string) Token {
	return Token{value: value, set: true}
}

// Present reports whether a token was supplied.
func (t Token) Present() bool {
	return t.set
}

// Expose returns the raw token value. Call it only at the point the value is
// actually needed, such as when building an Authorization header.
func (t Token) Expose() string {
	return t.value
}

func (t Token) String() string {
	return "[REDACTED]"
}

func (t Token) GoString() string {
	return "client.Token{[REDACTED]}"
}

// headerValue validates the token as an HTTP header value and returns it.
// Header values must not contain control bytes; a violation is reported as an
// AuthError before any request is sent.
func (t Token) headerValue() (string, error) {
	for i := 0; i < len(t.value); i++ {
		b := t.value[i]
		if (b < 0x20 && b != '\t') || b == 0x7f {
			return "", &AuthError{Detail: "token contains a control character and cannot be sent as a header value"}
		}
	}
	return t.value, nil
}
