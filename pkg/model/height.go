package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Height is the blockchain height a client reports about itself. The relay
// never interprets it: any JSON value is kept as received and written back
// verbatim. An absent height is written as 0.
type Height string

// HeightOf formats an integer height.
func HeightOf(v int64) Height { return Height(strconv.FormatInt(v, 10)) }

func (h Height) MarshalJSON() ([]byte, error) {
	if h == "" {
		return []byte("0"), nil
	}
	if !json.Valid([]byte(h)) {
		return json.Marshal(string(h))
	}
	return []byte(h), nil
}

func (h *Height) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*h = ""
		return nil
	}
	*h = Height(b)
	return nil
}

func (h Height) String() string {
	if h == "" {
		return "0"
	}
	return string(h)
}
