// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// UserConfig describes a USM user. Either passphrases or already localized
// keys are given. Without EngineID the user is a prototype: it is stored for
// the local engine and cloned, with keys re-localized, for every remote
// engine that the user talks to.
type UserConfig struct {
	Name           string
	EngineID       []byte
	AuthProtocol   int
	PrivProtocol   int
	AuthPassphrase string
	PrivPassphrase string
	AuthKey        []byte // localized, used when AuthPassphrase is empty
	PrivKey        []byte // localized, used when PrivPassphrase is empty
}

// User is an entry of usmUserTable with keys localized for EngineID.
type User struct {
	Name         []byte
	EngineID     []byte
	AuthProtocol int
	PrivProtocol int
	AuthKey      []byte
	PrivKey      []byte

	// master keys, kept for cloning
	authKu []byte
	privKu []byte
}

// UserInfo is the exported, key-free view of a User.
type UserInfo struct {
	Name          string `json:"name"`
	EngineID      string `json:"engineID"`
	AuthProtocol  int    `json:"authProtocol"`
	PrivProtocol  int    `json:"privProtocol"`
	SecurityLevel int    `json:"maxSecurityLevel"`
	Prototype     bool   `json:"prototype"`
}

// SecurityLevel returns the highest level the user's protocols allow.
func (u *User) SecurityLevel() int {
	switch {
	case u.AuthProtocol == AUTH_PROTOCOL_NONE:
		return SECLEVEL_NOAUTH_NOPRIV
	case u.PrivProtocol == PRIV_PROTOCOL_NONE:
		return SECLEVEL_AUTHNOPRIV
	}
	return SECLEVEL_AUTHPRIV
}

// Prototype reports whether master keys are kept, so the user can be cloned.
func (u *User) Prototype() bool {
	return u.AuthProtocol == AUTH_PROTOCOL_NONE || u.authKu != nil
}

// NewUser derives the localized keys of cfg for engineID.
func NewUser(cfg UserConfig, engineID []byte) (*User, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("usm: user name is empty")
	}
	if cfg.AuthProtocol == AUTH_PROTOCOL_NONE && cfg.PrivProtocol != PRIV_PROTOCOL_NONE {
		return nil, fmt.Errorf("usm: user %s: privacy requires authentication", cfg.Name)
	}
	u := &User{
		Name:         []byte(cfg.Name),
		EngineID:     append([]byte(nil), engineID...),
		AuthProtocol: cfg.AuthProtocol,
		PrivProtocol: cfg.PrivProtocol,
	}
	if cfg.AuthProtocol == AUTH_PROTOCOL_NONE {
		return u, nil
	}

	var err error
	if cfg.AuthPassphrase != "" {
		if u.authKu, err = PasswordToKey([]byte(cfg.AuthPassphrase), cfg.AuthProtocol); err != nil {
			return nil, fmt.Errorf("usm: user %s: %w", cfg.Name, err)
		}
	} else if len(cfg.AuthKey) == 0 {
		return nil, fmt.Errorf("usm: user %s auth: %w", cfg.Name, ErrMissingKey)
	}
	if cfg.PrivProtocol != PRIV_PROTOCOL_NONE {
		if cfg.PrivPassphrase != "" {
			// the privacy key uses the hash of the auth protocol (RFC 3414 §11.2)
			if u.privKu, err = PasswordToKey([]byte(cfg.PrivPassphrase), cfg.AuthProtocol); err != nil {
				return nil, fmt.Errorf("usm: user %s: %w", cfg.Name, err)
			}
		} else if len(cfg.PrivKey) == 0 {
			return nil, fmt.Errorf("usm: user %s priv: %w", cfg.Name, ErrMissingKey)
		}
	}

	if u.authKu != nil {
		if err = u.localize(); err != nil {
			return nil, err
		}
	} else {
		u.AuthKey = append([]byte(nil), cfg.AuthKey...)
		if len(u.AuthKey) < DigestLength(cfg.AuthProtocol) {
			return nil, fmt.Errorf("usm: user %s: auth key of %d bytes is too short", cfg.Name, len(u.AuthKey))
		}
	}
	if cfg.PrivProtocol != PRIV_PROTOCOL_NONE && u.privKu == nil {
		if u.PrivKey, err = PrivKey(cfg.PrivKey, cfg.PrivProtocol, cfg.AuthProtocol, engineID); err != nil {
			return nil, fmt.Errorf("usm: user %s: %w", cfg.Name, err)
		}
	}
	// Passphrase auth with a configured localized priv key cannot be cloned.
	if u.privKu == nil && cfg.PrivProtocol != PRIV_PROTOCOL_NONE {
		u.authKu = nil
	}
	return u, nil
}

func (u *User) localize() error {
	var err error
	if u.AuthKey, err = LocalizeKey(u.authKu, u.EngineID, u.AuthProtocol); err != nil {
		return err
	}
	if u.privKu != nil {
		kul, err := LocalizeKey(u.privKu, u.EngineID, u.AuthProtocol)
		if err != nil {
			return err
		}
		if u.PrivKey, err = PrivKey(kul, u.PrivProtocol, u.AuthProtocol, u.EngineID); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy of a prototype user localized for engineID.
func (u *User) Clone(engineID []byte) (*User, error) {
	if !u.Prototype() {
		return nil, fmt.Errorf("usm: user %s has no master keys", u.Name)
	}
	c := &User{
		Name:         append([]byte(nil), u.Name...),
		EngineID:     append([]byte(nil), engineID...),
		AuthProtocol: u.AuthProtocol,
		PrivProtocol: u.PrivProtocol,
	}
	if u.AuthProtocol == AUTH_PROTOCOL_NONE {
		return c, nil
	}
	c.authKu, c.privKu = u.authKu, u.privKu
	if err := c.localize(); err != nil {
		return nil, err
	}
	// clones are not prototypes themselves
	c.authKu, c.privKu = nil, nil
	return c, nil
}

type userKey struct {
	engineID string
	name     string
}

// UserTable is usmUserTable indexed by (engineID, userName). Not safe for
// concurrent use.
type UserTable struct {
	users      map[userKey]*User
	prototypes map[string]string // name -> engine ID of the prototype entry
}

func NewUserTable() *UserTable {
	return &UserTable{users: make(map[userKey]*User), prototypes: make(map[string]string)}
}

func (t *UserTable) Add(u *User, prototype bool) {
	k := userKey{string(u.EngineID), string(u.Name)}
	t.users[k] = u
	if prototype && u.Prototype() {
		t.prototypes[k.name] = k.engineID
	} else if t.prototypes[k.name] == k.engineID {
		delete(t.prototypes, k.name)
	}
}

func (t *UserTable) isPrototype(k userKey) bool {
	e, ok := t.prototypes[k.name]
	return ok && e == k.engineID
}

// Remove deletes the user of engineID. Removing a prototype also removes its
// clones.
func (t *UserTable) Remove(engineID []byte, name string) bool {
	k := userKey{string(engineID), name}
	if _, ok := t.users[k]; !ok {
		return false
	}
	delete(t.users, k)
	if t.isPrototype(k) {
		delete(t.prototypes, name)
		for key := range t.users {
			if key.name == name {
				delete(t.users, key)
			}
		}
	}
	return true
}

func (t *UserTable) Lookup(engineID, name []byte) (*User, bool) {
	u, ok := t.users[userKey{string(engineID), string(name)}]
	return u, ok
}

// Resolve finds the user of (engineID, name). Without a localized entry the
// prototype of localEngineID is cloned; the clone is not stored until Keep.
func (t *UserTable) Resolve(localEngineID, engineID, name []byte) (*User, bool) {
	if u, ok := t.Lookup(engineID, name); ok {
		return u, true
	}
	if len(engineID) == 0 || !t.isPrototype(userKey{string(localEngineID), string(name)}) {
		return nil, false
	}
	proto, ok := t.Lookup(localEngineID, name)
	if !ok {
		return nil, false
	}
	c, err := proto.Clone(engineID)
	if err != nil {
		return nil, false
	}
	return c, true
}

// Keep stores a user returned by Resolve unless its key is already taken.
func (t *UserTable) Keep(u *User) {
	k := userKey{string(u.EngineID), string(u.Name)}
	if _, ok := t.users[k]; !ok {
		t.users[k] = u
	}
}

func (t *UserTable) Len() int { return len(t.users) }

// Info lists the users sorted by name, then engine ID.
func (t *UserTable) Info() []UserInfo {
	out := make([]UserInfo, 0, len(t.users))
	for k, u := range t.users {
		out = append(out, UserInfo{
			Name:          k.name,
			EngineID:      hex.EncodeToString(u.EngineID),
			AuthProtocol:  u.AuthProtocol,
			PrivProtocol:  u.PrivProtocol,
			SecurityLevel: u.SecurityLevel(),
			Prototype:     t.isPrototype(k),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].EngineID < out[j].EngineID
	})
	return out
}
