package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ResponseConstructors(t *testing.T) {
	tcases := []struct {
		name string
		msg  *ServerMessage
		code int
	}{
		{"ok", NoErrOK(1, nil), http.StatusOK},
		{"accepted", NoErrAccepted(2), http.StatusAccepted},
		{"peer not found", ErrPeerNotFound(3), http.StatusNotFound},
		{"not joined", ErrNotJoined(4), http.StatusConflict},
		{"internal error", ErrInternalError(5), http.StatusInternalServerError},
		{"service unavailable", ErrServiceUnavailable(6), http.StatusServiceUnavailable},
		{"invalid message", ErrInvalidMessage(7), http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotNil(t, tc.msg.Response)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode)
			assert.False(t, tc.msg.Timestamp.IsZero())
		})
	}
}

func Test_ErrInvalidMessage_NegativeId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Zero(t, msg.Id, "expected negative ids to be omitted")
}

func Test_ServerMessageSerialization(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := json.Marshal(message)
	assert.NoError(t, err)
	assert.Equal(t, expected, string(bytes))
}

func Test_ClientMessageParsing(t *testing.T) {
	raw := `{"id":3,"join":{"peer_id":"abc123"}}`

	var msg ClientMessage
	assert.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.NotNil(t, msg.Join)
	assert.Equal(t, "abc123", msg.Join.PeerId)
	assert.Nil(t, msg.Publish)
	assert.Nil(t, msg.Leave)
}

func Test_Now_RoundsToMilliseconds(t *testing.T) {
	now := Now()
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "expected ms precision")
	assert.Equal(t, time.UTC, now.Location())
}
