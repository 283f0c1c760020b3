package index

import (
	"encoding/base64"

	"github.com/devrev/entitydb/internal/binding"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/util"
)

const tokenVersion = 1

// Token is a self-contained scan position: the composite key of the last
// returned entry and its duplicate marker. It never refers to a live cursor.
type Token struct {
	Key  []byte
	Data []byte
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool {
	return t.Key == nil && t.Data == nil
}

// Marshal encodes the token with a checksum trailer.
func (t Token) Marshal() []byte {
	out := binding.NewTupleOutput()
	out.WriteFast(tokenVersion)
	out.WriteBytes(t.Key)
	out.WriteBytes(t.Data)
	return util.Seal(out.Bytes())
}

// UnmarshalToken decodes a token written by Marshal.
func UnmarshalToken(b []byte) (Token, error) {
	payload, err := util.Unseal(b)
	if err != nil {
		return Token{}, errors.BadToken("continuation token is corrupt", err)
	}
	in := binding.NewTupleInput(payload)
	if v := in.ReadFast(); in.Err() == nil && v != tokenVersion {
		return Token{}, errors.BadToken("unsupported continuation token version", nil).WithDetail("version", v)
	}
	tok := Token{Key: in.ReadBytes(), Data: in.ReadBytes()}
	if err := in.Err(); err != nil {
		return Token{}, errors.BadToken("continuation token is truncated", err)
	}
	if in.Remaining() != 0 {
		return Token{}, errors.BadToken("continuation token has trailing bytes", nil)
	}
	if len(tok.Data) == 0 {
		tok.Data = nil
	}
	return tok, nil
}

// MarshalText renders the token as unpadded base64url.
func (t Token) MarshalText() ([]byte, error) {
	raw := t.Marshal()
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)
	return out, nil
}

func (t *Token) UnmarshalText(text []byte) error {
	raw := make([]byte, base64.RawURLEncoding.DecodedLen(len(text)))
	n, err := base64.RawURLEncoding.Decode(raw, text)
	if err != nil {
		return errors.BadToken("continuation token is not base64url", err)
	}
	tok, err := UnmarshalToken(raw[:n])
	if err != nil {
		return err
	}
	*t = tok
	return nil
}

// String is the text form, or "" for the zero token.
func (t Token) String() string {
	if t.IsZero() {
		return ""
	}
	b, _ := t.MarshalText()
	return string(b)
}

// ParseToken parses the text form. An empty string is the zero token.
func ParseToken(s string) (Token, error) {
	var t Token
	if s == "" {
		return t, nil
	}
	err := t.UnmarshalText([]byte(s))
	return t, err
}
