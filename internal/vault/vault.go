// Package vault implements the gateway's secret-at-rest credential store
// (spec §4.1, C1).
//
// TokenVault addresses secrets by an opaque key string and never inspects
// the bytes it stores - tool handlers decide what belongs in the vault (the
// sample convention is "{userId}:{service}", spec §6) and what it means.
//
// Two backends exist:
//
//   - Keyring: the OS-native credential store (macOS Keychain, Linux Secret
//     Service via D-Bus, Windows Credential Manager), via
//     github.com/zalando/go-keyring.
//   - Memory: an in-process map guarded by a mutex, used either as the sole
//     backend (tests, CI, headless containers with no keyring daemon) or as
//     the fallback a Keyring-backed vault demotes to.
//
// State machine: a vault starts in Keyring mode. The first keyring error
// (and only the first) flips it permanently to Memory mode if
// fallbackToMemory was configured; Memory is a one-way door for the
// lifetime of the instance. This mirrors the keychain-availability check in
// the pack's pass-cli (internal/keychain/keychain.go): probing a broken
// keyring on every call would make Store/Retrieve non-idempotent and the
// test suite flaky, so the demotion happens exactly once.
package vault

import (
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/streamspace/mcp-gateway/internal/gwerrors"
	"github.com/streamspace/mcp-gateway/internal/logger"
)

// Config configures a TokenVault.
type Config struct {
	// ServiceName labels the keyring entries created by this vault
	// (the "service" argument to the OS keyring API).
	ServiceName string

	// FallbackToMemory, when true, demotes the vault to memory-only
	// storage on the first keyring error instead of returning Storage
	// failures to callers.
	FallbackToMemory bool
}

// TokenVault is a key-addressed secret store with a keyring-primary,
// memory-fallback degradation policy. Safe for concurrent use.
type TokenVault struct {
	mu sync.Mutex

	serviceName      string
	fallbackToMemory bool
	usingKeyring     bool
	memory           map[string]string
}

// New creates a TokenVault starting in Keyring mode.
func New(cfg Config) *TokenVault {
	return &TokenVault{
		serviceName:      cfg.ServiceName,
		fallbackToMemory: cfg.FallbackToMemory,
		usingKeyring:     true,
		memory:           make(map[string]string),
	}
}

// IsUsingKeyring reports whether the vault is still attempting keyring
// operations. Once false, it never becomes true again for this instance.
func (v *TokenVault) IsUsingKeyring() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.usingKeyring
}

// MemoryStoreSize returns the number of entries currently held in the
// in-memory map (zero while in Keyring mode and no demotion has occurred).
func (v *TokenVault) MemoryStoreSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.memory)
}

// ClearMemory empties the in-memory map without affecting keyring state.
func (v *TokenVault) ClearMemory() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.memory = make(map[string]string)
}

// ListKeys lists keys known to the memory-mode store. Keyring-backed
// entries are opaque to the OS keyring APIs used here, so this is always a
// lower bound on what Retrieve might find; callers must not treat it as a
// full inventory while in Keyring mode.
func (v *TokenVault) ListKeys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.memory))
	for k := range v.memory {
		keys = append(keys, k)
	}
	return keys
}

// Store saves secret under key. While in Keyring mode, a write failure
// either demotes the vault to Memory (fallbackToMemory=true) and retries
// the write there, or is returned to the caller as a Storage failure
// (fallbackToMemory=false).
func (v *TokenVault) Store(key, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.usingKeyring {
		if err := keyring.Set(v.serviceName, key, secret); err == nil {
			return nil
		} else if !v.fallbackToMemory {
			return gwerrors.Wrap(gwerrors.KeyringUnavailable, "keyring write failed", err)
		} else {
			logger.Vault().Warn().Str("key", key).Msg("keyring write failed, demoting to memory store")
			v.usingKeyring = false
		}
	}

	v.memory[key] = secret
	return nil
}

// Retrieve returns the secret stored under key, or ("", false, nil) if
// absent.
func (v *TokenVault) Retrieve(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.usingKeyring {
		secret, err := keyring.Get(v.serviceName, key)
		switch {
		case err == nil:
			return secret, true, nil
		case err == keyring.ErrNotFound:
			return "", false, nil
		case !v.fallbackToMemory:
			return "", false, gwerrors.Wrap(gwerrors.KeyringUnavailable, "keyring read failed", err)
		default:
			logger.Vault().Warn().Str("key", key).Msg("keyring read failed, demoting to memory store")
			v.usingKeyring = false
		}
	}

	secret, ok := v.memory[key]
	return secret, ok, nil
}

// Exists is Retrieve(key) reduced to presence.
func (v *TokenVault) Exists(key string) (bool, error) {
	_, ok, err := v.Retrieve(key)
	return ok, err
}

// Delete removes the secret stored under key, returning whether an entry
// was actually removed.
func (v *TokenVault) Delete(key string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.usingKeyring {
		err := keyring.Delete(v.serviceName, key)
		switch {
		case err == nil:
			return true, nil
		case err == keyring.ErrNotFound:
			return false, nil
		case !v.fallbackToMemory:
			return false, gwerrors.Wrap(gwerrors.KeyringUnavailable, "keyring delete failed", err)
		default:
			logger.Vault().Warn().Str("key", key).Msg("keyring delete failed, demoting to memory store")
			v.usingKeyring = false
		}
	}

	_, existed := v.memory[key]
	delete(v.memory, key)
	return existed, nil
}

// String renders the vault's current backend for diagnostics.
func (v *TokenVault) String() string {
	if v.IsUsingKeyring() {
		return fmt.Sprintf("TokenVault{backend=keyring service=%s}", v.serviceName)
	}
	return fmt.Sprintf("TokenVault{backend=memory entries=%d}", v.MemoryStoreSize())
}
