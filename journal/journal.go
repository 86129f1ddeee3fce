package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/clock"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultFileName is the name of the journal database file.
	DefaultFileName = "journal.db"

	dbFilePermission = 0600

	openTimeout = time.Second
)

var (
	// transitionsBucket holds one nested bucket per order id. Entries
	// within are keyed by a big endian sequence number.
	transitionsBucket = []byte("order-transitions")

	// interventionsBucket holds failures that need manual follow up,
	// keyed by a big endian sequence number.
	interventionsBucket = []byte("interventions")
)

// Entry is one recorded change of an order's progress.
type Entry struct {
	Seq           uint64    `json:"seq"`
	Time          time.Time `json:"time"`
	OrderID       string    `json:"order_id"`
	PaymentStatus string    `json:"payment_status"`
	OrderStatus   string    `json:"order_status"`
	Courier       string    `json:"courier,omitempty"`
	Reason        string    `json:"reason"`
}

// Intervention is a failure the daemon could not resolve on its own, such as
// a HODL invoice that could not be canceled.
type Intervention struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	OrderID string    `json:"order_id"`
	Action  string    `json:"action"`
	Error   string    `json:"error"`
}

// Store is an append only order journal backed by bbolt.
type Store struct {
	db    *bolt.DB
	clock clock.Clock
}

// Open opens or creates the journal at path.
func Open(path string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, dbFilePermission, &bolt.Options{
		Timeout: openTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open journal %s: %w", path,
			err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			transitionsBucket, interventionsBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Opened order journal at %s", path)

	return &Store{db: db, clock: clk}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)

	return key[:]
}

// RecordTransition appends the current progress of an order.
func (s *Store) RecordTransition(state *orders.OrderInvoiceState,
	reason string) error {

	return s.db.Update(func(tx *bolt.Tx) error {
		orderBucket, err := tx.Bucket(transitionsBucket).
			CreateBucketIfNotExists([]byte(state.ID()))
		if err != nil {
			return err
		}

		seq, err := orderBucket.NextSequence()
		if err != nil {
			return err
		}

		entry, err := json.Marshal(&Entry{
			Seq:           seq,
			Time:          s.clock.Now().UTC(),
			OrderID:       state.ID(),
			PaymentStatus: string(state.PaymentStatus),
			OrderStatus:   string(state.OrderStatus),
			Courier:       state.CourierPubKey(),
			Reason:        reason,
		})
		if err != nil {
			return err
		}

		return orderBucket.Put(seqKey(seq), entry)
	})
}

// History returns the recorded transitions of an order, oldest first.
func (s *Store) History(orderID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		orderBucket := tx.Bucket(transitionsBucket).Bucket(
			[]byte(orderID),
		)
		if orderBucket == nil {
			return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
		}

		return orderBucket.ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
			}
			entries = append(entries, entry)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// RecordIntervention stores a failure that needs operator attention.
func (s *Store) RecordIntervention(orderID, action string, cause error) error {
	log.Warnf("Intervention needed for order %s: %s: %v", orderID, action,
		cause)

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(interventionsBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		var errStr string
		if cause != nil {
			errStr = cause.Error()
		}

		entry, err := json.Marshal(&Intervention{
			Seq:     seq,
			Time:    s.clock.Now().UTC(),
			OrderID: orderID,
			Action:  action,
			Error:   errStr,
		})
		if err != nil {
			return err
		}

		return bucket.Put(seqKey(seq), entry)
	})
}

// Interventions returns all recorded interventions, oldest first.
func (s *Store) Interventions() ([]Intervention, error) {
	var interventions []Intervention
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(interventionsBucket).ForEach(
			func(_, v []byte) error {
				var i Intervention
				if err := json.Unmarshal(v, &i); err != nil {
					return fmt.Errorf("%w: %v",
						ErrCorruptEntry, err)
				}
				interventions = append(interventions, i)

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return interventions, nil
}
