package rosbridge

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator выдаёт correlation id вида <op>:<name>:<suffix>.
// Реализация обязана быть безопасной для конкурентного вызова.
type IDGenerator interface {
	Next(op Op, name string) string
}

// CounterIDs монотонный счётчик в пределах одного клиента.
// Начинается с нуля, первый выданный id имеет суффикс 1.
type CounterIDs struct {
	n atomic.Uint64
}

func NewCounterIDs() *CounterIDs { return &CounterIDs{} }

func (g *CounterIDs) Next(op Op, name string) string {
	return fmt.Sprintf("%s:%s:%d", op, name, g.n.Add(1))
}

// UUIDIDs уникален между процессами, удобно когда к одному мосту ходят
// несколько клиентов с общим логом.
type UUIDIDs struct{}

func (UUIDIDs) Next(op Op, name string) string {
	return fmt.Sprintf("%s:%s:%s", op, name, uuid.NewString())
}

// IDGeneratorByName возвращает генератор по имени схемы из конфига.
func IDGeneratorByName(scheme string) (IDGenerator, error) {
	switch scheme {
	case "", "counter":
		return NewCounterIDs(), nil
	case "uuid":
		return UUIDIDs{}, nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", scheme)
	}
}
