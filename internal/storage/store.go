// Package storage persists the device's durable protocol state: the
// linked-wallet record (sealed at rest — the phone keeps this in the OS
// keychain, the companion seals it under a local secret), the paired-agent
// set, and the passkey credential record.
package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta       = []byte("meta")
	bucketWallet     = []byte("wallet")
	bucketAgents     = []byte("agents")
	bucketCredential = []byte("credential")

	keySalt       = []byte("salt")
	keyWallet     = []byte("linked-wallet")
	keyCredential = []byte("credential")
)

// LinkedWallet is the root of trust created by a successful linking flow.
// Exactly one is active per device.
type LinkedWallet struct {
	Pubkey       string    `json:"pubkey"`
	TelegramID   int64     `json:"telegramId"`
	CredentialID string    `json:"credentialId"`
	LinkedAt     time.Time `json:"linkedAt"`
}

// PairedAgent is an agent this device has approved. The set is keyed by
// agent ID; re-approval overwrites.
type PairedAgent struct {
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	PairedAt  time.Time `json:"pairedAt"`
}

// CredentialRecord anchors assertion verification for this device's passkey.
type CredentialRecord struct {
	CredentialID string `json:"credentialId"`
	PublicKey    string `json:"publicKey"` // base64 compressed secp256r1, 33 bytes
	RPIDHash     string `json:"rpIdHash"`  // base64, 32 bytes
}

type Store struct {
	db   *bolt.DB
	aead cipher.AEAD
}

// Open opens (creating if needed) the bbolt database at path. The wallet
// bucket is sealed under a key derived from secret; the salt is generated
// on first open and persisted alongside.
func Open(path string, secret []byte) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open storage")
	}

	var salt []byte
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketWallet, bucketAgents, bucketCredential} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if existing := meta.Get(keySalt); existing != nil {
			salt = append([]byte(nil), existing...)
			return nil
		}

		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		return meta.Put(keySalt, salt)
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize storage")
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, aead: aead}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveLinkedWallet seals and persists the wallet record.
func (s *Store) SaveLinkedWallet(wallet *LinkedWallet) error {
	plaintext, err := json.Marshal(wallet)
	if err != nil {
		return errors.Wrap(err, "failed to encode wallet")
	}
	sealed, err := seal(s.aead, plaintext)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWallet).Put(keyWallet, sealed)
	})
}

// LinkedWallet returns the persisted wallet, or nil when the device is not
// linked.
func (s *Store) LinkedWallet() (*LinkedWallet, error) {
	var sealed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketWallet).Get(keyWallet); data != nil {
			sealed = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, nil
	}

	plaintext, err := open(s.aead, sealed)
	if err != nil {
		return nil, err
	}

	var wallet LinkedWallet
	if err := json.Unmarshal(plaintext, &wallet); err != nil {
		return nil, errors.Wrap(err, "failed to decode wallet")
	}
	return &wallet, nil
}

// ClearLinkedWallet removes the wallet and credential records (explicit unlink).
func (s *Store) ClearLinkedWallet() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketWallet).Delete(keyWallet); err != nil {
			return err
		}
		return tx.Bucket(bucketCredential).Delete(keyCredential)
	})
}

// SaveCredential persists the passkey anchor record.
func (s *Store) SaveCredential(record *CredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to encode credential")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredential).Put(keyCredential, data)
	})
}

// Credential returns the persisted passkey record, or nil if absent.
func (s *Store) Credential() (*CredentialRecord, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCredential).Get(keyCredential); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var record CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode credential")
	}
	return &record, nil
}

// SavePairedAgent inserts or overwrites one agent, keyed by agent ID.
func (s *Store) SavePairedAgent(agent *PairedAgent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return errors.Wrap(err, "failed to encode agent")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Put([]byte(agent.AgentID), data)
	})
}

// PairedAgents lists all locally known agents.
func (s *Store) PairedAgents() ([]PairedAgent, error) {
	var agents []PairedAgent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(_, v []byte) error {
			var agent PairedAgent
			if err := json.Unmarshal(v, &agent); err != nil {
				return errors.Wrap(err, "failed to decode agent")
			}
			agents = append(agents, agent)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// RemovePairedAgent deletes one agent (explicit unpair).
func (s *Store) RemovePairedAgent(agentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(agentID))
	})
}

// ReplacePairedAgents swaps the whole set, used when syncing from the backend.
func (s *Store) ReplacePairedAgents(agents []PairedAgent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketAgents); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(bucketAgents)
		if err != nil {
			return err
		}
		for i := range agents {
			data, err := json.Marshal(&agents[i])
			if err != nil {
				return errors.Wrap(err, "failed to encode agent")
			}
			if err := bucket.Put([]byte(agents[i].AgentID), data); err != nil {
				return err
			}
		}
		return nil
	})
}
