package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	calls []string
}

func (r *recordingSender) GetPeers() error { r.calls = append(r.calls, "peers"); return nil }
func (r *recordingSender) RelayTo(address string, payload any) error {
	r.calls = append(r.calls, "to:"+address+":"+payload.(string))
	return nil
}
func (r *recordingSender) Broadcast(payload any) error {
	r.calls = append(r.calls, "all:"+payload.(string))
	return nil
}
func (r *recordingSender) UpdateStatus(h int64) error {
	r.calls = append(r.calls, "height")
	return nil
}

func TestRunCommand(t *testing.T) {
	s := &recordingSender{}
	for _, line := range []string{"/peers", "/to nodeB hello there", "gm", "/height 12", ""} {
		quit, err := runCommand(s, line)
		require.NoError(t, err, line)
		assert.False(t, quit)
	}
	assert.Equal(t, []string{"peers", "to:nodeB:hello there", "all:gm", "height"}, s.calls)

	quit, err := runCommand(s, "/quit")
	assert.NoError(t, err)
	assert.True(t, quit)

	_, err = runCommand(s, "/to nodeB")
	assert.Error(t, err)
	_, err = runCommand(s, "/height x")
	assert.Error(t, err)
	_, err = runCommand(s, "/nope")
	assert.Error(t, err)
}

func TestPayloadText(t *testing.T) {
	assert.Equal(t, "hi", payloadText(json.RawMessage(`"hi"`)))
	assert.Equal(t, `{"msg":"hi"}`, payloadText(json.RawMessage(`{"msg":"hi"}`)))
}
