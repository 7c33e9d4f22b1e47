// Пакет blobtest — хранилище объектов в памяти для тестов
// с управляемыми отказами операций.
package blobtest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// Memory — потокобезопасный blobstore.Store в памяти.
// Ненулевые PutErr, DeleteErr и PresignErr возвращаются соответствующими операциями.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes []string

	PutErr     error
	DeleteErr  error
	PresignErr error
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("чтение тела: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("размер тела %d не совпадает с заявленным %d", len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) PresignedGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if m.PresignErr != nil {
		return "", m.PresignErr
	}
	return fmt.Sprintf("https://blob.test/bucket/%s?X-Amz-Expires=%d",
		url.PathEscape(key), int(ttl.Seconds())), nil
}

// Has сообщает, хранится ли объект.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Get возвращает содержимое объекта.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Len возвращает число хранимых объектов.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Deletes возвращает ключи всех вызовов Delete, включая неудачные.
func (m *Memory) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}
