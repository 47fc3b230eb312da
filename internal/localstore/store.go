// Package localstore keeps a few uploaded firmware images in memory, addressed by content.
package localstore

import (
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/seek-ret/fwbundle/internal/datatypes"
)

// DefaultCapacity is the number of images kept before the oldest is evicted.
const DefaultCapacity = 4

type image struct {
	id           string
	data         []byte
	registeredAt time.Time
}

// Store is a bounded FIFO of uploaded firmware images. Lookups do not refresh
// an image's position, and registering identical content twice keeps both copies.
type Store struct {
	capacity int
	now      func() time.Time

	mu     sync.Mutex
	images []image
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the number of images kept. Values below one are ignored.
func WithCapacity(capacity int) Option {
	return func(s *Store) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithClock sets the clock used to stamp registrations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the content address of data.
func ID(data []byte) string {
	return digest.FromBytes(data).Encoded()
}

// Register appends data to the store, evicting the oldest image when the store
// is over capacity, and returns the content address of data.
func (s *Store) Register(data []byte) string {
	id := ID(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, image{
		id:           id,
		data:         data,
		registeredAt: s.now(),
	})
	if len(s.images) > s.capacity {
		s.images[0] = image{}
		s.images = s.images[1:]
	}
	return id
}

// Lookup returns the data of the oldest image with the given id.
func (s *Store) Lookup(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.id == id {
			return img.data, true
		}
	}
	return nil, false
}

// List describes the stored images, oldest first.
func (s *Store) List() []datatypes.LocalFirmware {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]datatypes.LocalFirmware, 0, len(s.images))
	for _, img := range s.images {
		res = append(res, datatypes.LocalFirmware{
			ID:           img.id,
			Size:         len(img.data),
			RegisteredAt: img.registeredAt,
		})
	}
	return res
}

// Len returns the number of stored images.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}
