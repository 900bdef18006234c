package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/raftcore/pkg/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries     = []byte("log_entries")
	bucketTermVote    = []byte("term_vote")
	bucketSnapshot    = []byte("snapshot_chunks")
	bucketSnapshotMD  = []byte("snapshot_meta")
	bucketCA          = []byte("ca")
	keyTermVote       = []byte("term_vote")
	keySnapshotMeta   = []byte("meta")
	keyCA             = []byte("ca")
)

// BoltStore implements Store using a single BoltDB file on disk, one
// bucket per kind of durable state.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB-backed store
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "raftcore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketTermVote, bucketSnapshot, bucketSnapshotMD, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(idx raft.Index) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(idx))
	return key
}

func offsetKey(offset uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, offset)
	return key
}

func (s *BoltStore) AppendEntries(entries []raft.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetEntries(from, to raft.Index) ([]raft.Entry, error) {
	var out []raft.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			idx := raft.Index(binary.BigEndian.Uint64(k))
			if idx > to {
				break
			}
			var e raft.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ReleaseEntries(first, last raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for idx := first; idx <= last; idx++ {
			if err := b.Delete(indexKey(idx)); err != nil {
				return err
			}
		}
		return nil
	})
}

type termVoteRecord struct {
	Term     raft.Term
	VotedFor string
}

func (s *BoltStore) SaveTermAndVote(term raft.Term, votedFor string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(termVoteRecord{Term: term, VotedFor: votedFor})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTermVote).Put(keyTermVote, data)
	})
}

func (s *BoltStore) LoadTermAndVote() (raft.Term, string, error) {
	var rec termVoteRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTermVote).Get(keyTermVote)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	return rec.Term, rec.VotedFor, err
}

type snapshotMetaRecord struct {
	LastIndex     raft.Index
	LastTerm      raft.Term
	Configuration []byte
}

func (s *BoltStore) SaveSnapshotChunk(offset uint64, data []byte, isLast bool, meta SnapshotMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		if err := tx.Bucket(bucketSnapshot).Put(offsetKey(offset), chunk); err != nil {
			return err
		}
		if !isLast {
			return nil
		}
		rec := snapshotMetaRecord{
			LastIndex:     meta.LastIndex,
			LastTerm:      meta.LastTerm,
			Configuration: raft.EncodeConfiguration(meta.Configuration),
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshotMD).Put(keySnapshotMeta, encoded)
	})
}

func (s *BoltStore) LoadSnapshotChunk(offset uint64) ([]byte, bool, bool, error) {
	var data []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshot).Get(offsetKey(offset))
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		ok = true
		return nil
	})
	if err != nil || !ok {
		return nil, false, ok, err
	}
	meta, hasMeta, err := s.LoadSnapshotMeta()
	if err != nil {
		return nil, false, false, err
	}
	isLast := hasMeta && meta.LastIndex > 0 && s.isLastOffset(offset)
	return data, isLast, true, nil
}

// isLastOffset reports whether offset is the highest stored chunk
// offset, used to recover IsLast across a restart.
func (s *BoltStore) isLastOffset(offset uint64) bool {
	var maxOffset uint64
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshot).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		found = true
		maxOffset = binary.BigEndian.Uint64(k)
		return nil
	})
	return found && offset == maxOffset
}

func (s *BoltStore) LoadSnapshotMeta() (SnapshotMeta, bool, error) {
	var meta SnapshotMeta
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshotMD).Get(keySnapshotMeta)
		if data == nil {
			return nil
		}
		var rec snapshotMetaRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		cfg, err := raft.DecodeConfiguration(rec.Configuration)
		if err != nil {
			return err
		}
		meta = SnapshotMeta{LastIndex: rec.LastIndex, LastTerm: rec.LastTerm, Configuration: cfg}
		ok = true
		return nil
	})
	return meta, ok, err
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put(keyCA, data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get(keyCA)
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
