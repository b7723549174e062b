// Package settings — локальные настройки устройства поверх bbolt.
// Здесь живут два срока хранения: delete_device_after (максимальный возраст
// сообщения на устройстве) и delete_server_after (срок, после которого копия
// на сервере подлежит удалению). Обе настройки по замыслу НЕ синхронизируются
// между устройствами пользователя, поэтому хранятся не в общей базе сообщений,
// а в отдельном key-value файле рядом с ней.
//
// Значения пользователь может менять в рантайме; потребители обязаны читать
// их на каждом вызове, а не кешировать (движок истечения так и делает).
package settings

import (
	"encoding/binary"
	"strconv"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"mailchat/internal/infra/storage"
)

// bucketDevice — единственный bucket с настройками устройства.
var bucketDevice = []byte("device_settings")

// Ключи настроек. Значения — uint64 в big-endian; отсутствие ключа означает
// «настройка не задана».
const (
	KeyDeleteDeviceAfter = "delete_device_after"
	KeyDeleteServerAfter = "delete_server_after"
)

// Store — обёртка над открытым bbolt-файлом. Безопасна для конкурентного
// использования: bbolt сериализует писателей сам.
type Store struct {
	db *bolt.DB
}

// Open открывает (или создаёт) файл настроек и гарантирует наличие bucket.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "settings dir")
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open settings")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketDevice)
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init settings bucket")
	}
	return &Store{db: db}, nil
}

// Close закрывает файл настроек.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seconds возвращает значение настройки в секундах и флаг её наличия.
// Ноль, записанный явно, трактуется как «не задана» — так настройку можно
// сбросить, не удаляя ключ.
func (s *Store) Seconds(key string) (int64, bool, error) {
	var value int64
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevice).Get([]byte(key))
		if len(raw) != 8 {
			return nil
		}
		v := binary.BigEndian.Uint64(raw)
		if v == 0 {
			return nil
		}
		value = int64(v) // #nosec G115 — записываем только неотрицательные значения
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "read "+key)
	}
	return value, ok, nil
}

// SetSeconds записывает значение настройки. Отрицательные значения недопустимы.
func (s *Store) SetSeconds(key string, seconds int64) error {
	if seconds < 0 {
		return errors.New("negative duration " + strconv.FormatInt(seconds, 10))
	}
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(seconds))
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevice).Put([]byte(key), raw[:])
	})
	return errors.Wrap(err, "write "+key)
}

// Clear сбрасывает настройку (эквивалент SetSeconds(key, 0)).
func (s *Store) Clear(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevice).Delete([]byte(key))
	})
	return errors.Wrap(err, "clear "+key)
}

// DeleteDeviceAfter — удобный доступ к сроку хранения на устройстве.
func (s *Store) DeleteDeviceAfter() (int64, bool, error) {
	return s.Seconds(KeyDeleteDeviceAfter)
}

// DeleteServerAfter — удобный доступ к сроку хранения на сервере.
func (s *Store) DeleteServerAfter() (int64, bool, error) {
	return s.Seconds(KeyDeleteServerAfter)
}
