// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package config

import (
	"errors"
	"fmt"
	"log/slog"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
)

// Changes counts the table entries touched by Reconcile.
type Changes struct {
	UsersAdded, UsersRemoved             int
	CommunitiesAdded, CommunitiesRemoved int
	TargetsAdded, TargetsRemoved         int
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool { return c == Changes{} }

func (c Changes) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("usersAdded", c.UsersAdded), slog.Int("usersRemoved", c.UsersRemoved),
		slog.Int("communitiesAdded", c.CommunitiesAdded), slog.Int("communitiesRemoved", c.CommunitiesRemoved),
		slog.Int("targetsAdded", c.TargetsAdded), slog.Int("targetsRemoved", c.TargetsRemoved),
	)
}

// Apply loads the users, communities and targets of c into e.
func Apply(e *PowerSNMP.Engine, c *Config) (Changes, error) {
	return Reconcile(e, nil, c)
}

// Reconcile moves e from the tables of old to those of cur: entries that
// disappeared or changed are removed, new and changed entries are added.
// A nil old adds everything. Entries that fail to convert are reported and
// skipped; the rest are still applied.
func Reconcile(e *PowerSNMP.Engine, old, cur *Config) (Changes, error) {
	if old == nil {
		old = &Config{}
	}
	var ch Changes
	var errs []error

	type userKey struct{ name, engineID string }
	oldUsers := make(map[userKey]UserConfig)
	for _, u := range old.Users {
		oldUsers[userKey{u.Name, u.EngineID}] = u
	}
	curUsers := make(map[userKey]UserConfig)
	for _, u := range cur.Users {
		curUsers[userKey{u.Name, u.EngineID}] = u
	}
	for k, u := range oldUsers {
		if n, ok := curUsers[k]; ok && n == u {
			continue
		}
		engineID, _ := decodeHex(u.EngineID)
		if e.RemoveUser(engineID, u.Name) {
			ch.UsersRemoved++
		}
	}
	for k, u := range curUsers {
		if o, ok := oldUsers[k]; ok && o == u {
			continue
		}
		uc, err := u.USM()
		if err == nil {
			err = e.AddUser(uc)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ch.UsersAdded++
	}

	oldComm := make(map[string]CommunityConfig)
	for _, c := range old.Communities {
		oldComm[c.Community().Name] = c
	}
	curComm := make(map[string]CommunityConfig)
	for _, c := range cur.Communities {
		curComm[c.Community().Name] = c
	}
	for name, c := range oldComm {
		if n, ok := curComm[name]; ok && n == c {
			continue
		}
		if e.RemoveCommunity(name) {
			ch.CommunitiesRemoved++
		}
	}
	for name, c := range curComm {
		if o, ok := oldComm[name]; ok && o == c {
			continue
		}
		if err := e.AddCommunity(c.Community()); err != nil {
			errs = append(errs, fmt.Errorf("community %s: %w", name, err))
			continue
		}
		ch.CommunitiesAdded++
	}

	oldTargets := make(map[string]TargetConfig)
	for _, t := range old.Targets {
		oldTargets[t.Name] = t
	}
	curTargets := make(map[string]TargetConfig)
	for _, t := range cur.Targets {
		curTargets[t.Name] = t
	}
	for name, t := range oldTargets {
		if n, ok := curTargets[name]; ok && sameTarget(n, t) {
			continue
		}
		if e.RemoveTarget(name) {
			ch.TargetsRemoved++
		}
	}
	for name, t := range curTargets {
		if o, ok := oldTargets[name]; ok && sameTarget(o, t) {
			continue
		}
		target, err := t.Target()
		if err == nil {
			err = e.AddTarget(name, target)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ch.TargetsAdded++
	}
	return ch, errors.Join(errs...)
}

// sameTarget compares two entries; Version may hold a string or a number.
func sameTarget(a, b TargetConfig) bool {
	va, vb := a.version(), b.version()
	a.Version, b.Version = nil, nil
	return va == vb && a == b
}
