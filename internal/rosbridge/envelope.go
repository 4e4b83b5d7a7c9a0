package rosbridge

import (
	"encoding/json"
	"fmt"
)

// Op тег операции протокола rosbridge.
type Op string

const (
	OpFragment           Op = "fragment"
	OpPNG                Op = "png"
	OpSetLevel           Op = "set_level"
	OpStatus             Op = "status"
	OpAuth               Op = "auth"
	OpAdvertise          Op = "advertise"
	OpUnadvertise        Op = "unadvertise"
	OpSubscribe          Op = "subscribe"
	OpUnsubscribe        Op = "unsubscribe"
	OpPublish            Op = "publish"
	OpCallService        Op = "call_service"
	OpAdvertiseService   Op = "advertise_service"
	OpUnadvertiseService Op = "unadvertise_service"
	OpServiceResponse    Op = "service_response"
)

// Compression режим сжатия для подписки/вызова. Кодеки не реализуются
// клиентом, значение просто уходит на мост.
type Compression string

const (
	CompressionNone    Compression = "none"
	CompressionPNG     Compression = "png"
	CompressionCBOR    Compression = "cbor"
	CompressionCBORRaw Compression = "cbor-raw"
)

// StatusLevel уровень статус-сообщений моста.
type StatusLevel string

const (
	StatusInfo    StatusLevel = "info"
	StatusWarning StatusLevel = "warning"
	StatusError   StatusLevel = "error"
	StatusNone    StatusLevel = "none"
)

// DefaultQueueSize размер очереди advertise/publish по умолчанию.
const DefaultQueueSize = 100

// Envelope одно сообщение протокола. Набор вариантов закрыт: реализовать
// интерфейс можно только типами этого пакета.
type Envelope interface {
	Op() Op
	envelope()
}

// Subscribe подписка на топик.
type Subscribe struct {
	ID           string      `json:"id"`
	Topic        string      `json:"topic"`
	Type         string      `json:"type,omitempty"`
	ThrottleRate int         `json:"throttle_rate"`
	QueueLength  int         `json:"queue_length"`
	FragmentSize int         `json:"fragment_size,omitempty"`
	Compression  Compression `json:"compression"`
}

// Unsubscribe отписка, ID берётся из исходного Subscribe.
type Unsubscribe struct {
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// Publish публикация сообщения в топик.
type Publish struct {
	ID        string          `json:"id,omitempty"`
	Topic     string          `json:"topic"`
	Msg       json.RawMessage `json:"msg"`
	Latch     bool            `json:"latch"`
	QueueSize int             `json:"queue_size"`
}

// Advertise объявление топика.
type Advertise struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Type      string `json:"type"`
	Latch     bool   `json:"latch"`
	QueueSize int    `json:"queue_size"`
}

// Unadvertise снятие объявления топика.
type Unadvertise struct {
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// CallService вызов сервиса. Приходит и от моста, если клиент сам
// объявил сервис.
type CallService struct {
	ID           string          `json:"id"`
	Service      string          `json:"service"`
	Args         json.RawMessage `json:"args"`
	FragmentSize int             `json:"fragment_size,omitempty"`
	Compression  Compression     `json:"compression,omitempty"`
}

// AdvertiseService объявление сервиса клиентом.
type AdvertiseService struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

// UnadvertiseService снятие объявления сервиса.
type UnadvertiseService struct {
	Service string `json:"service"`
}

// ServiceResponse ответ на call_service.
type ServiceResponse struct {
	ID      string          `json:"id,omitempty"`
	Service string          `json:"service"`
	Result  bool            `json:"result"`
	Values  json.RawMessage `json:"values"`
}

// Auth аутентификация на мосту (rosauth).
type Auth struct {
	MAC    string `json:"mac"`
	Client string `json:"client"`
	Dest   string `json:"dest"`
	Rand   string `json:"rand"`
	T      int64  `json:"t"`
	Level  string `json:"level"`
	End    int64  `json:"end"`
}

// SetLevel смена уровня статус-сообщений.
type SetLevel struct {
	ID    string      `json:"id,omitempty"`
	Level StatusLevel `json:"level"`
}

// Status статус-сообщение от моста.
type Status struct {
	ID    string      `json:"id,omitempty"`
	Level StatusLevel `json:"level"`
	Msg   string      `json:"msg"`
}

func (Subscribe) Op() Op          { return OpSubscribe }
func (Unsubscribe) Op() Op        { return OpUnsubscribe }
func (Publish) Op() Op            { return OpPublish }
func (Advertise) Op() Op          { return OpAdvertise }
func (Unadvertise) Op() Op        { return OpUnadvertise }
func (CallService) Op() Op        { return OpCallService }
func (AdvertiseService) Op() Op   { return OpAdvertiseService }
func (UnadvertiseService) Op() Op { return OpUnadvertiseService }
func (ServiceResponse) Op() Op    { return OpServiceResponse }
func (Auth) Op() Op               { return OpAuth }
func (SetLevel) Op() Op           { return OpSetLevel }
func (Status) Op() Op             { return OpStatus }

func (Subscribe) envelope()          {}
func (Unsubscribe) envelope()        {}
func (Publish) envelope()            {}
func (Advertise) envelope()          {}
func (Unadvertise) envelope()        {}
func (CallService) envelope()        {}
func (AdvertiseService) envelope()   {}
func (UnadvertiseService) envelope() {}
func (ServiceResponse) envelope()    {}
func (Auth) envelope()               {}
func (SetLevel) envelope()           {}
func (Status) envelope()             {}

// ========================= сериализация =========================

func (m Subscribe) MarshalJSON() ([]byte, error) {
	type alias Subscribe
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpSubscribe, alias(m)})
}

func (m Unsubscribe) MarshalJSON() ([]byte, error) {
	type alias Unsubscribe
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpUnsubscribe, alias(m)})
}

func (m Publish) MarshalJSON() ([]byte, error) {
	type alias Publish
	a := alias(m)
	if len(a.Msg) == 0 {
		a.Msg = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpPublish, a})
}

func (m Advertise) MarshalJSON() ([]byte, error) {
	type alias Advertise
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpAdvertise, alias(m)})
}

func (m Unadvertise) MarshalJSON() ([]byte, error) {
	type alias Unadvertise
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpUnadvertise, alias(m)})
}

func (m CallService) MarshalJSON() ([]byte, error) {
	type alias CallService
	a := alias(m)
	if len(a.Args) == 0 {
		a.Args = emptyObject
	}
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpCallService, a})
}

func (m AdvertiseService) MarshalJSON() ([]byte, error) {
	type alias AdvertiseService
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpAdvertiseService, alias(m)})
}

func (m UnadvertiseService) MarshalJSON() ([]byte, error) {
	type alias UnadvertiseService
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpUnadvertiseService, alias(m)})
}

func (m ServiceResponse) MarshalJSON() ([]byte, error) {
	type alias ServiceResponse
	a := alias(m)
	if len(a.Values) == 0 {
		a.Values = emptyObject
	}
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpServiceResponse, a})
}

func (m Auth) MarshalJSON() ([]byte, error) {
	type alias Auth
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpAuth, alias(m)})
}

func (m SetLevel) MarshalJSON() ([]byte, error) {
	type alias SetLevel
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpSetLevel, alias(m)})
}

func (m Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		Op Op `json:"op"`
		alias
	}{OpStatus, alias(m)})
}

// ========================= разбор входящих =========================

// PeekOp достаёт тег op, не разбирая остальное.
func PeekOp(data []byte) (Op, error) {
	var head struct {
		Op Op `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return head.Op, nil
}

// DecodeEnvelope разбирает входящий JSON по тегу op. Для операций, которые
// клиент не обрабатывает (fragment, png и прочие), возвращается (nil, nil).
func DecodeEnvelope(data []byte) (Envelope, error) {
	op, err := PeekOp(data)
	if err != nil {
		return nil, err
	}
	var env Envelope
	switch op {
	case OpPublish:
		var m Publish
		err = json.Unmarshal(data, &m)
		env = m
	case OpServiceResponse:
		var m ServiceResponse
		err = json.Unmarshal(data, &m)
		env = m
	case OpCallService:
		var m CallService
		err = json.Unmarshal(data, &m)
		env = m
	case OpStatus:
		var m Status
		err = json.Unmarshal(data, &m)
		env = m
	case "":
		return nil, fmt.Errorf("decode envelope: missing op")
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", op, err)
	}
	return env, nil
}
