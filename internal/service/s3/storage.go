// storage.go
package s3

import "context"

// Storage - порт хранения содержимого версий (ключ -> байты).
// Реализации: S3, память, таблица в БД.
type Storage interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get возвращает domain.ErrBlobNotFound, если ключа нет
	Get(ctx context.Context, key string) ([]byte, error)
}
