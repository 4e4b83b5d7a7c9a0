package rosbridge

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `{}`},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"struct", struct {
			Data int `json:"data"`
		}{42069}, `{"data":42069}`},
		{"raw object", json.RawMessage(`{"x":[1,2]}`), `{"x":[1,2]}`},
		{"number", 5, `{}`},
		{"array", []int{1, 2}, `{}`},
		{"null raw", json.RawMessage(`null`), `{}`},
		{"plain string", "hello", `{}`},
		{"json string", `{"k":"v"}`, `{"k":"v"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkJSONObject(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestCheckJSONObjectNotSerializable(t *testing.T) {
	_, err := checkJSONObject(map[string]any{"f": func() {}})
	assert.ErrorIs(t, err, ErrNotJSONCompatible)

	_, err = checkJSONObject(math.NaN())
	assert.ErrorIs(t, err, ErrNotJSONCompatible)

	_, err = checkJSONObject(json.RawMessage(`{broken`))
	assert.ErrorIs(t, err, ErrNotJSONCompatible)
}

func TestMarshalPayloadPassthrough(t *testing.T) {
	got, err := marshalPayload(42)
	require.NoError(t, err)
	assert.Equal(t, "42", string(got))

	got, err = marshalPayload(json.RawMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))

	_, err = marshalPayload([]byte("{nope"))
	assert.ErrorIs(t, err, ErrNotJSONCompatible)
}
