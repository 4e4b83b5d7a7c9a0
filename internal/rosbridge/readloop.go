package rosbridge

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cbor-сжатие моста присылает бинарные кадры, карты декодируем со
// строковыми ключами, чтобы потом перегнать в JSON
var cborDecoder, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
}.DecMode()

func (c *Client) readLoop(t Transport) {
	for {
		mt, data, err := t.ReadMessage()
		if err != nil {
			c.handleClose(t, err)
			return
		}

		if mt == BinaryMessage {
			data, err = cborToJSON(data)
			if err != nil {
				c.log.Warn("decode binary frame", "err", err)
				c.errs.emit(err)
				continue
			}
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			c.log.Warn("decode envelope", "err", err)
			c.errs.emit(err)
			continue
		}
		if env == nil {
			// fragment и png клиент не собирает
			op, _ := PeekOp(data)
			c.log.Debug("envelope ignored", "op", op)
			continue
		}
		c.metrics.received(env.Op())
		c.dispatch(env)
	}
}

func cborToJSON(data []byte) ([]byte, error) {
	var v any
	if err := cborDecoder.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cbor: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor to json: %w", err)
	}
	return b, nil
}

func (c *Client) handleClose(t Transport, err error) {
	c.mu.Lock()
	if c.retired == t {
		// после Close клиент уже подключается заново, состояние не трогаем
		c.retired = nil
		c.mu.Unlock()
		ev, isClose := closeEventFromError(err)
		if !isClose {
			ev = CloseEvent{Code: 1000, Reason: "closed by client", WasClean: true}
		}
		c.log.Info("disconnected", "code", ev.Code, "reason", ev.Reason)
		c.closed.emit(ev)
		return
	}
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	closing := c.closing
	if closing {
		c.state = StateClosed
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	_ = t.Close()
	c.metrics.connected(false)

	ev, isClose := closeEventFromError(err)
	if closing && !isClose {
		ev = CloseEvent{Code: 1000, Reason: "closed by client", WasClean: true}
	}
	if !closing && !isClose {
		c.log.Warn("connection lost", "err", err)
		c.errs.emit(err)
	}
	c.log.Info("disconnected", "code", ev.Code, "reason", ev.Reason)
	c.closed.emit(ev)
}
