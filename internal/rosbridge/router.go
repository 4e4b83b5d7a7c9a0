package rosbridge

import (
	"encoding/json"
	"sync"
	"time"
)

// ServiceHandler обработчик вызова объявленного клиентом сервиса.
// Возвращаемое значение уходит в values ответа.
type ServiceHandler func(args json.RawMessage) (any, error)

type callKey struct {
	service string
	id      string
}

type pendingCall struct {
	onSuccess func(json.RawMessage)
	onFailure func(json.RawMessage)
	started   time.Time
}

type topicListener struct {
	id uint64
	fn func(json.RawMessage)
}

// router таблицы слушателей топиков, ожидающих вызовов и объявленных
// сервисов. Сам ничего не шлёт.
type router struct {
	mu       sync.Mutex
	next     uint64
	topics   map[string][]topicListener
	calls    map[callKey]*pendingCall
	services map[string]ServiceHandler
}

func newRouter() *router {
	return &router{
		topics:   make(map[string][]topicListener),
		calls:    make(map[callKey]*pendingCall),
		services: make(map[string]ServiceHandler),
	}
}

// addListener регистрирует fn на топик, если id != 0 заменяет существующего.
func (r *router) addListener(topic string, id uint64, fn func(json.RawMessage)) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != 0 {
		ls := r.topics[topic]
		for i := range ls {
			if ls[i].id == id {
				ls[i].fn = fn
				return id
			}
		}
	}
	r.next++
	id = r.next
	r.topics[topic] = append(r.topics[topic], topicListener{id: id, fn: fn})
	return id
}

func (r *router) removeListener(topic string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls := r.topics[topic]
	for i := range ls {
		if ls[i].id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(r.topics, topic)
		return
	}
	r.topics[topic] = ls
}

func (r *router) listeners(topic string) []topicListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.topics[topic]
	out := make([]topicListener, len(ls))
	copy(out, ls)
	return out
}

func (r *router) addCall(service, id string, pc *pendingCall) {
	r.mu.Lock()
	r.calls[callKey{service, id}] = pc
	r.mu.Unlock()
}

// takeCall удаляет и возвращает ожидающий вызов. Запись удаляется до вызова
// колбэка, поэтому колбэк срабатывает не больше одного раза.
func (r *router) takeCall(service, id string) (*pendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := callKey{service, id}
	pc, ok := r.calls[k]
	if ok {
		delete(r.calls, k)
	}
	return pc, ok
}

func (r *router) pendingCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *router) setService(service string, h ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.services, service)
		return
	}
	r.services[service] = h
}

func (r *router) service(service string) (ServiceHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.services[service]
	return h, ok
}

// ========================= dispatch =========================

// dispatch вызывается только из readLoop, по одному сообщению за раз.
func (c *Client) dispatch(env Envelope) {
	switch m := env.(type) {
	case Publish:
		ls := c.router.listeners(m.Topic)
		for _, l := range ls {
			l.fn(m.Msg)
		}

	case ServiceResponse:
		pc, ok := c.router.takeCall(m.Service, m.ID)
		if !ok {
			c.log.Debug("unmatched service_response dropped", "service", m.Service, "id", m.ID)
			c.metrics.responseDropped("unmatched")
			return
		}
		c.metrics.callFinished(m.Service, m.Result, time.Since(pc.started))
		c.metrics.setPendingCalls(c.router.pendingCalls())
		values := m.Values
		if len(values) == 0 {
			values = json.RawMessage("null")
		}
		if m.Result {
			if pc.onSuccess != nil {
				pc.onSuccess(values)
			}
			return
		}
		if pc.onFailure != nil {
			pc.onFailure(values)
			return
		}
		c.metrics.responseDropped("failure_without_callback")

	case CallService:
		c.serveCall(m)

	case Status:
		c.statuses.emit(m)
	}
}

// serveCall отвечает на вызов сервиса, который объявил этот клиент.
func (c *Client) serveCall(req CallService) {
	h, ok := c.router.service(req.Service)
	if !ok {
		c.log.Debug("call_service for unknown service", "service", req.Service, "id", req.ID)
		return
	}

	resp := ServiceResponse{ID: req.ID, Service: req.Service, Result: true}
	out, err := h(req.Args)
	if err != nil {
		c.errs.emit(err)
		resp.Result = false
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		resp.Values = b
	} else {
		values, verr := checkJSONObject(out)
		if verr != nil {
			c.errs.emit(verr)
			resp.Result = false
			b, _ := json.Marshal(map[string]string{"error": verr.Error()})
			resp.Values = b
		} else {
			resp.Values = values
		}
	}

	if err := c.Send(resp); err != nil {
		c.log.Warn("send service_response", "service", req.Service, "err", err)
	}
}
