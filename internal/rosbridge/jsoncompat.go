package rosbridge

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

var emptyObject = json.RawMessage("{}")

// checkJSONObject проверяет, что payload сериализуется в JSON и является
// объектом. Если сериализовать нельзя совсем, возвращается ошибка
// ErrNotJSONCompatible. Если JSON получился, но это не объект (null, число,
// массив), подставляется {} без ошибки.
func checkJSONObject(v any) (json.RawMessage, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJSONCompatible, err)
		}
		raw = b
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if _, isString := v.(string); isString {
			// обычная строка, не JSON-текст: объектом не является
			return emptyObject, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNotJSONCompatible, err)
	}

	val, err := structpb.NewValue(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONCompatible, err)
	}
	if _, ok := val.GetKind().(*structpb.Value_StructValue); !ok {
		return emptyObject, nil
	}
	return json.RawMessage(raw), nil
}

// marshalPayload сериализует сообщение для publish без проверки формы.
func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: invalid JSON bytes", ErrNotJSONCompatible)
		}
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONCompatible, err)
	}
	return b, nil
}
