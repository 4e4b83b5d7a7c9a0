package rosbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/EgorLis/rosbridge/internal/rosbridge"

// Service вызов и объявление одного сервиса.
type Service struct {
	c           *Client
	name        string
	serviceType string

	mu         sync.Mutex
	advertised bool
}

// NewService создаёт handle сервиса на клиенте.
func NewService(c *Client, name, serviceType string) *Service {
	return &Service{c: c, name: name, serviceType: serviceType}
}

func (s *Service) Name() string { return s.name }

type callOptions struct {
	fragmentSize int
	compression  Compression
}

// CallOption настройки одного call_service.
type CallOption func(*callOptions)

func WithFragmentSize(n int) CallOption {
	return func(o *callOptions) { o.fragmentSize = n }
}

// WithCallCompression мост поддерживает для ответов none и png.
func WithCallCompression(c Compression) CallOption {
	return func(o *callOptions) { o.compression = c }
}

// Call вызывает сервис. На один вызов срабатывает не больше одного из
// onSuccess/onFailure, и только когда придёт ответ с тем же id и именем
// сервиса. onFailure может быть nil: тогда неуспешный ответ молча
// отбрасывается. Таймаута нет, см. CallContext.
//
// Если req сериализуется в JSON, но не является объектом, вместо него
// уходит {}. Ошибка возвращается, только если req не сериализуется совсем.
func (s *Service) Call(req any, onSuccess, onFailure func(values json.RawMessage), opts ...CallOption) error {
	_, err := s.call(req, onSuccess, onFailure, opts...)
	return err
}

func (s *Service) call(req any, onSuccess, onFailure func(json.RawMessage), opts ...CallOption) (string, error) {
	args, err := checkJSONObject(req)
	if err != nil {
		return "", err
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	env := CallService{
		ID:           s.c.ids.Next(OpCallService, s.name),
		Service:      s.name,
		Args:         args,
		FragmentSize: o.fragmentSize,
		Compression:  o.compression,
	}

	// регистрируем до отправки: ответ может прийти раньше, чем Send вернётся
	s.c.router.addCall(s.name, env.ID, &pendingCall{
		onSuccess: onSuccess,
		onFailure: onFailure,
		started:   time.Now(),
	})
	s.c.metrics.setPendingCalls(s.c.router.pendingCalls())

	if err := s.c.Send(env); err != nil {
		s.c.router.takeCall(s.name, env.ID)
		s.c.metrics.setPendingCalls(s.c.router.pendingCalls())
		return "", err
	}
	return env.ID, nil
}

// CallContext блокирующий вариант Call. При result=false возвращает
// *ServiceError. Отмена или дедлайн ctx снимают ожидающий вызов, поздний
// ответ будет отброшен.
func (s *Service) CallContext(ctx context.Context, req any, opts ...CallOption) (json.RawMessage, error) {
	ctx, span := s.c.tracer.Start(ctx, "rosbridge.call_service",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rosbridge.service", s.name),
			attribute.String("rosbridge.service_type", s.serviceType),
		))
	defer span.End()

	type result struct {
		values json.RawMessage
		err    error
	}
	ch := make(chan result, 1)

	id, err := s.call(req,
		func(v json.RawMessage) { ch <- result{values: v} },
		func(v json.RawMessage) { ch <- result{err: &ServiceError{Service: s.name, Values: v}} },
		opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("rosbridge.id", id))
	s.c.log.DebugContext(ctx, "call_service sent", "service", s.name, "id", id)

	select {
	case r := <-ch:
		if r.err != nil {
			span.RecordError(r.err)
			span.SetStatus(codes.Error, "service failed")
			s.c.log.DebugContext(ctx, "call_service failed", "service", s.name, "id", id)
		} else {
			s.c.log.DebugContext(ctx, "call_service done", "service", s.name, "id", id)
		}
		return r.values, r.err
	case <-ctx.Done():
		if _, ok := s.c.router.takeCall(s.name, id); ok {
			s.c.metrics.setPendingCalls(s.c.router.pendingCalls())
		}
		span.SetStatus(codes.Error, ctx.Err().Error())
		// ответ мог проскочить между Done и takeCall
		select {
		case r := <-ch:
			return r.values, r.err
		default:
		}
		s.c.log.DebugContext(ctx, "call_service abandoned", "service", s.name, "id", id, "err", ctx.Err())
		return nil, ctx.Err()
	}
}

// Advertise объявляет сервис на мосту. handler вызывается на каждый
// входящий call_service с этим именем, результат уходит как
// service_response с result=true. Ошибка handler даёт result=false.
func (s *Service) Advertise(handler ServiceHandler) error {
	s.c.router.setService(s.name, handler)

	s.mu.Lock()
	s.advertised = true
	s.mu.Unlock()

	return s.c.Send(AdvertiseService{Type: s.serviceType, Service: s.name})
}

// IsAdvertised объявлен ли сервис этим handle.
func (s *Service) IsAdvertised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertised
}

// Unadvertise без предыдущего Advertise ничего не делает.
func (s *Service) Unadvertise() error {
	s.mu.Lock()
	if !s.advertised {
		s.mu.Unlock()
		return nil
	}
	s.advertised = false
	s.mu.Unlock()

	s.c.router.setService(s.name, nil)
	return s.c.Send(UnadvertiseService{Service: s.name})
}
