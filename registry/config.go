package registry

import (
	"fmt"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/nostr"
)

// Config returns a copy of the admin configuration.
func (r *Registry) Config() *adminconf.Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.config.Clone()
}

// ExchangeRate returns the admin configured fiat units per BTC.
func (r *Registry) ExchangeRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.config.ExchangeRate()
}

// IsAdmin reports whether pubkey is on the admin whitelist.
func (r *Registry) IsAdmin(pubkey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.config.IsAdmin(pubkey)
}

// ApplyAdminRequest applies a configuration change requested by signer and
// returns the config note publishing the new value. The change is only
// committed if the note could be signed.
func (r *Registry) ApplyAdminRequest(keys *nostr.Keys, signer string,
	req *adminconf.ServerRequest) (*nostr.Note, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.config.IsAdmin(signer) {
		return nil, fmt.Errorf("admin %s: %w", signer, ErrNotWhitelisted)
	}

	next := r.config.Clone()
	if err := next.Apply(req.ConfigType, req.ConfigStr); err != nil {
		return nil, err
	}

	note, err := next.Sign(keys, req.ConfigType)
	if err != nil {
		return nil, err
	}
	r.config = next
	r.configStamps[req.ConfigType] = note.CreatedAt

	log.Infof("Admin %s updated %v", signer, req.ConfigType)

	return note, nil
}

// ApplyConfigNote restores a configuration entry from a config note
// published by the platform key.
func (r *Registry) ApplyConfigNote(keys *nostr.Keys,
	n *nostr.Note) (adminconf.ConfigType, error) {

	tag, ok := n.Tags.First("d")
	if !ok {
		return 0, adminconf.ErrMissingConfigType
	}
	t, err := adminconf.ParseConfigType(tag)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Relays may deliver an older replaceable note after a newer one.
	if n.CreatedAt < r.configStamps[t] {
		return t, fmt.Errorf("%w: %v at %d", ErrStaleConfig, t,
			n.CreatedAt)
	}

	next := r.config.Clone()
	if _, err := next.ApplyNote(keys, n); err != nil {
		return 0, err
	}
	r.config = next
	r.configStamps[t] = n.CreatedAt

	log.Debugf("Restored %v from config note %s", t, n.ID)

	return t, nil
}

// SignConfig signs the current value of one configuration entry.
func (r *Registry) SignConfig(keys *nostr.Keys,
	t adminconf.ConfigType) (*nostr.Note, error) {

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.config.Sign(keys, t)
}
