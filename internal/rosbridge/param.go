package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Param параметр сервера параметров ROS. Своего состояния не держит,
// каждый метод это вызов сервиса rosapi. Значение ходит по проводу
// JSON-строкой в поле value.
type Param struct {
	c    *Client
	name string
}

func NewParam(c *Client, name string) *Param {
	return &Param{c: c, name: name}
}

func (p *Param) Name() string { return p.name }

type getParamRequest struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
}

type setParamRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type deleteParamRequest struct {
	Name string `json:"name"`
}

// decodeParamValue достаёт значение из {"value": "<json>"}. Пустая строка
// означает, что параметра нет, отдаём null.
func decodeParamValue(values json.RawMessage) (json.RawMessage, error) {
	var r paramValueResponse
	if err := json.Unmarshal(values, &r); err != nil {
		return nil, fmt.Errorf("decode param response: %w", err)
	}
	if r.Value == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(r.Value)) {
		return nil, fmt.Errorf("param value is not JSON: %q", r.Value)
	}
	return json.RawMessage(r.Value), nil
}

func encodeParamValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotJSONCompatible, err)
	}
	return string(b), nil
}

func (p *Param) service(name, typ string) *Service {
	return NewService(p.c, name, typ)
}

// Get отдаёт в cb значение параметра как JSON. cb может быть nil.
func (p *Param) Get(cb func(value json.RawMessage), onFailure func(json.RawMessage)) error {
	return p.service(rosapiGetParam, "rosapi/GetParam").Call(getParamRequest{Name: p.name}, func(values json.RawMessage) {
		v, err := decodeParamValue(values)
		if err != nil {
			p.c.log.Warn("get param", "param", p.name, "err", err)
			p.c.errs.emit(err)
			return
		}
		if cb != nil {
			cb(v)
		}
	}, onFailure)
}

// Set записывает value. cb вызывается после подтверждения, может быть nil.
func (p *Param) Set(value any, cb func(), onFailure func(json.RawMessage)) error {
	s, err := encodeParamValue(value)
	if err != nil {
		return err
	}
	return p.service(rosapiSetParam, "rosapi/SetParam").Call(setParamRequest{Name: p.name, Value: s}, func(json.RawMessage) {
		if cb != nil {
			cb()
		}
	}, onFailure)
}

func (p *Param) Delete(cb func(), onFailure func(json.RawMessage)) error {
	return p.service(rosapiDeleteParam, "rosapi/DeleteParam").Call(deleteParamRequest{Name: p.name}, func(json.RawMessage) {
		if cb != nil {
			cb()
		}
	}, onFailure)
}

// GetContext блокирующий Get.
func (p *Param) GetContext(ctx context.Context) (json.RawMessage, error) {
	values, err := p.service(rosapiGetParam, "rosapi/GetParam").CallContext(ctx, getParamRequest{Name: p.name})
	if err != nil {
		return nil, err
	}
	return decodeParamValue(values)
}

func (p *Param) SetContext(ctx context.Context, value any) error {
	s, err := encodeParamValue(value)
	if err != nil {
		return err
	}
	_, err = p.service(rosapiSetParam, "rosapi/SetParam").CallContext(ctx, setParamRequest{Name: p.name, Value: s})
	return err
}

func (p *Param) DeleteContext(ctx context.Context) error {
	_, err := p.service(rosapiDeleteParam, "rosapi/DeleteParam").CallContext(ctx, deleteParamRequest{Name: p.name})
	return err
}
