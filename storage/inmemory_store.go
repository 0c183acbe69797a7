package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	UpdateBufferSize = 255
)

var (
	ErrKeyNotFound = errors.New("Key not found")
	ErrStoreClosed = errors.New("Store is closed")
)

type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	updateMu    sync.Mutex
	updateChans []chan *Update

	// stop willl be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() {
		close(i.stop)

		i.updateMu.Lock()
		defer i.updateMu.Unlock()

		for _, updateChan := range i.updateChans {
			close(updateChan)
		}

		i.updateChans = nil
	})

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	if !i.isRunning() {
		return ErrStoreClosed
	}

	i.mu.Lock()
	values, err := sjson.SetBytes(i.values, string(key), value)
	if err != nil {
		i.mu.Unlock()
		return err
	}

	i.values = values
	raw := []byte(gjson.GetBytes(i.values, string(key)).Raw)
	i.mu.Unlock()

	i.notify(&Update{Key: key, Value: raw})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, string(key))
	if !result.Exists() {
		return nil, ErrKeyNotFound
	}

	// Copy, values is replaced by the next write
	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key []byte) error {
	if !i.isRunning() {
		return ErrStoreClosed
	}

	i.mu.Lock()
	values, err := sjson.DeleteBytes(i.values, string(key))
	if err != nil {
		i.mu.Unlock()
		return err
	}

	i.values = values
	i.mu.Unlock()

	i.notify(&Update{Key: key})

	return nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) {
		return errors.New("Restore requires a valid JSON document")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// notify fans an update out to every listener. Listeners that fall behind
// miss updates rather than stall writers.
func (i *InmemoryStore) notify(update *Update) {
	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
