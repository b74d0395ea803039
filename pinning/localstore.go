package pinning

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	blobPrefix = "blob:"
	infoPrefix = "info:"
)

// ErrNotFound is returned by LocalStore.Get for unknown cids
var ErrNotFound = errors.New("object not found")

var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// ObjectInfo describes an object in a LocalStore
type ObjectInfo struct {
	Name        string    `msgpack:"name"`
	ContentType string    `msgpack:"content_type"`
	Size        int       `msgpack:"size"`
	PinnedAt    time.Time `msgpack:"pinned_at"`
}

// LocalStore is a content-addressed Gateway backed by badger. Identical
// content always yields the same cid.
type LocalStore struct {
	db      *badger.DB
	gateway string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLocalStore opens a LocalStore at path; an empty path opens an in-memory
// store. gateway is the base under which objects are served.
func NewLocalStore(path, gateway string) (*LocalStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "could not open pin store")
	}
	s := &LocalStore{
		db:      db,
		gateway: gateway,
		stop:    make(chan struct{}),
	}
	if path != "" {
		s.wg.Add(1)
		go s.gc()
	}
	return s, nil
}

func (s *LocalStore) gc() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.7) == nil {
			}
		}
	}
}

// Close stops the garbage collection and closes the database
func (s *LocalStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}

// ComputeCID returns the CIDv1 (raw, sha2-256) of data
func ComputeCID(data []byte) (string, error) {
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return c.String(), nil
}

// UploadImage implements Gateway
func (s *LocalStore) UploadImage(_ context.Context, data []byte, filename string) (Pin, error) {
	return s.put(data, filename, http.DetectContentType(data))
}

// UploadJSON implements Gateway
func (s *LocalStore) UploadJSON(_ context.Context, doc any, name string) (Pin, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Pin{}, errors.WithStack(err)
	}
	return s.put(data, name, "application/json")
}

func (s *LocalStore) put(data []byte, name, contentType string) (Pin, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return Pin{}, err
	}
	info, err := msgpack.Marshal(
		ObjectInfo{
			Name:        name,
			ContentType: contentType,
			Size:        len(data),
			PinnedAt:    time.Now().UTC(),
		},
	)
	if err != nil {
		return Pin{}, errors.WithStack(err)
	}
	err = s.db.Update(
		func(txn *badger.Txn) error {
			if _, err := txn.Get([]byte(blobPrefix + c)); err == nil {
				// already pinned
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set([]byte(blobPrefix+c), data); err != nil {
				return err
			}
			return txn.Set([]byte(infoPrefix+c), info)
		},
	)
	if err != nil {
		return Pin{}, errors.Wrap(err, "could not store object")
	}
	log.WithFields(log.Fields{"cid": c, "name": name}).Debug("stored object")
	return Pin{
		CID: c,
		URL: GatewayLink(s.gateway, c),
	}, nil
}

// Get returns the content and info of the object with the passed cid
func (s *LocalStore) Get(c string) ([]byte, *ObjectInfo, error) {
	if _, err := cid.Decode(c); err != nil {
		return nil, nil, errors.Wrap(ErrNotFound, "invalid cid")
	}
	var data []byte
	var info ObjectInfo
	err := s.db.View(
		func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(blobPrefix + c))
			if err != nil {
				return err
			}
			if data, err = item.ValueCopy(nil); err != nil {
				return err
			}
			item, err = txn.Get([]byte(infoPrefix + c))
			if err != nil {
				return err
			}
			return item.Value(
				func(val []byte) error {
					return msgpack.Unmarshal(val, &info)
				},
			)
		},
	)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return data, &info, nil
}
