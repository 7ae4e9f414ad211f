package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// id.go - идентификаторы пакетных прогонов
//
// ULID монотонен в пределах процесса: прогоны, созданные в одну
// миллисекунду, сортируются в порядке создания.

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New возвращает ULID для текущего момента
func New() string {
	return NewAt(time.Now())
}

// NewAt возвращает ULID с временной меткой t
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// возможно только при исчерпании монотонной энтропии
		panic(err)
	}
	return id.String()
}

// Time извлекает временную метку из ULID
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}

// Valid проверяет формат ULID
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
