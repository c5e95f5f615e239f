package quota

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Vault stores API keys encrypted at rest with a single process-wide
// secret (spec §4.8 Encryption). No plaintext key is retained in
// memory longer than the span of a Decrypt call (P7).
type Vault struct {
	mu   sync.Mutex
	aead struct {
		secret [chacha20poly1305.KeySize]byte
	}
	keys map[string]*Key
	ids  clock.IDGen
	clk  clock.Clock
	bus  *events.Bus
}

// NewVault creates a Vault keyed by secret, which is hashed/truncated
// to the AEAD's required key size by the caller-supplied exact-length
// slice (callers should derive it with a KDF upstream of this package).
func NewVault(secret [chacha20poly1305.KeySize]byte, clk clock.Clock, ids clock.IDGen, bus *events.Bus) *Vault {
	v := &Vault{keys: make(map[string]*Key), clk: clk, ids: ids, bus: bus}
	v.aead.secret = secret
	return v
}

func (v *Vault) encrypt(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.aead.secret[:])
	if err != nil {
		return nil, fmt.Errorf("quota: vault cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("quota: vault nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return append(nonce, ciphertext...), nil
}

func (v *Vault) decrypt(blob []byte) (string, error) {
	aead, err := chacha20poly1305.New(v.aead.secret[:])
	if err != nil {
		return "", fmt.Errorf("quota: vault cipher: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return "", fmt.Errorf("quota: vault: ciphertext too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("quota: vault: decrypt failed: %w", err)
	}
	return string(plaintext), nil
}

// AddKey stores a new key, encrypting secret at rest.
func (v *Vault) AddKey(k Key, secret string) (*Key, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	enc, err := v.encrypt(secret)
	if err != nil {
		return nil, err
	}
	k.ID = v.ids.NewID()
	k.Active = true
	k.EncryptedSecret = enc
	k.CreatedAt = v.clk.Now()
	v.keys[k.ID] = &k
	return exportKey(&k), nil
}

// Update replaces a key's non-secret metadata.
func (v *Vault) Update(id string, mutate func(*Key)) (*Key, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k, ok := v.keys[id]
	if !ok {
		return nil, fmt.Errorf("quota: key %s: %w", id, swarmerr.ErrKeyNotFound)
	}
	mutate(k)
	return exportKey(k), nil
}

// Activate/Deactivate flip a key's eligibility for selection.
func (v *Vault) Activate(id string) error   { return v.setActive(id, true) }
func (v *Vault) Deactivate(id string) error { return v.setActive(id, false) }

func (v *Vault) setActive(id string, active bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	k, ok := v.keys[id]
	if !ok {
		return fmt.Errorf("quota: key %s: %w", id, swarmerr.ErrKeyNotFound)
	}
	k.Active = active
	return nil
}

// Delete removes a key entirely.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[id]; !ok {
		return fmt.Errorf("quota: key %s: %w", id, swarmerr.ErrKeyNotFound)
	}
	delete(v.keys, id)
	return nil
}

// Decrypt is the only operation that returns a plaintext key (P7).
func (v *Vault) Decrypt(id string) (string, error) {
	v.mu.Lock()
	k, ok := v.keys[id]
	v.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("quota: key %s: %w", id, swarmerr.ErrKeyNotFound)
	}
	return v.decrypt(k.EncryptedSecret)
}

// get returns the live key pointer for internal use by QuotaBook,
// which shares this vault's lock discipline by only touching
// non-secret counters.
func (v *Vault) get(id string) (*Key, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k, ok := v.keys[id]
	return k, ok
}

func (v *Vault) keysForUser(userID string) []*Key {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*Key
	for _, k := range v.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out
}

// exportKey returns a copy with EncryptedSecret cleared — the shape
// Export/serialisation must use so no ciphertext blob leaks out (P7).
func exportKey(k *Key) *Key {
	cp := *k
	cp.EncryptedSecret = nil
	cp.AllowedModels = append([]string(nil), k.AllowedModels...)
	cp.TaskTypes = append([]string(nil), k.TaskTypes...)
	cp.Languages = append([]string(nil), k.Languages...)
	return &cp
}
