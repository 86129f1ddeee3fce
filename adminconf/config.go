package adminconf

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultExchangeRate is the rate used until an admin sets one.
const DefaultExchangeRate = 1.0

// ConfigType identifies one entry of the admin configuration. The numeric
// code is carried in the d tag of config notes.
type ConfigType uint32

const (
	AdminWhitelist ConfigType = iota
	CommerceWhitelist
	ConsumerBlacklist
	UserRegistrations
	ExchangeRate
	CourierWhitelist
)

// AllConfigTypes lists every configuration type in code order.
var AllConfigTypes = []ConfigType{
	AdminWhitelist, CommerceWhitelist, ConsumerBlacklist,
	UserRegistrations, ExchangeRate, CourierWhitelist,
}

var configTypeNames = map[ConfigType]string{
	AdminWhitelist:    "AdminWhitelist",
	CommerceWhitelist: "CommerceWhitelist",
	ConsumerBlacklist: "ConsumerBlacklist",
	UserRegistrations: "UserRegistrations",
	ExchangeRate:      "ExchangeRate",
	CourierWhitelist:  "CourierWhitelist",
}

// String returns the name of the configuration type.
func (t ConfigType) String() string {
	if name, ok := configTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("ConfigType(%d)", uint32(t))
}

// Valid reports whether t is a known configuration type.
func (t ConfigType) Valid() bool {
	_, ok := configTypeNames[t]
	return ok
}

// Private reports whether notes of this type are encrypted to the platform
// key instead of published in the clear.
func (t ConfigType) Private() bool {
	switch t {
	case AdminWhitelist, ConsumerBlacklist, UserRegistrations:
		return true
	default:
		return false
	}
}

// Tag returns the d tag value of the type.
func (t ConfigType) Tag() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ParseConfigType accepts either the numeric code or the name of a type.
func ParseConfigType(s string) (ConfigType, error) {
	s = strings.TrimSpace(s)

	if code, err := strconv.ParseUint(s, 10, 32); err == nil {
		t := ConfigType(code)
		if !t.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrUnknownConfigType, code)
		}

		return t, nil
	}

	for t, name := range configTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownConfigType, s)
}

// MarshalJSON encodes the type as its numeric code.
func (t ConfigType) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(t))
}

// UnmarshalJSON accepts a numeric code, a numeric string or a type name.
func (t *ConfigType) UnmarshalJSON(data []byte) error {
	var code uint32
	if err := json.Unmarshal(data, &code); err == nil {
		parsed := ConfigType(code)
		if !parsed.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownConfigType, code)
		}
		*t = parsed

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseConfigType(s)
	if err != nil {
		return err
	}
	*t = parsed

	return nil
}

// Configuration is the platform configuration maintained by admins. It is not
// safe for concurrent use; the registry guards it.
type Configuration struct {
	adminWhitelist    fn.Set[string]
	commerceWhitelist fn.Set[string]
	courierWhitelist  fn.Set[string]
	consumerBlacklist fn.Set[string]
	userRegistrations fn.Set[string]
	exchangeRate      float64
}

// NewConfiguration returns an empty configuration whose admin whitelist is
// seeded with the bootstrap admins.
func NewConfiguration(admins ...string) *Configuration {
	return &Configuration{
		adminWhitelist:    fn.NewSet(admins...),
		commerceWhitelist: fn.NewSet[string](),
		courierWhitelist:  fn.NewSet[string](),
		consumerBlacklist: fn.NewSet[string](),
		userRegistrations: fn.NewSet[string](),
		exchangeRate:      DefaultExchangeRate,
	}
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	return &Configuration{
		adminWhitelist:    fn.NewSet(c.adminWhitelist.ToSlice()...),
		commerceWhitelist: fn.NewSet(c.commerceWhitelist.ToSlice()...),
		courierWhitelist:  fn.NewSet(c.courierWhitelist.ToSlice()...),
		consumerBlacklist: fn.NewSet(c.consumerBlacklist.ToSlice()...),
		userRegistrations: fn.NewSet(c.userRegistrations.ToSlice()...),
		exchangeRate:      c.exchangeRate,
	}
}

// IsAdmin reports whether pubkey may change the configuration.
func (c *Configuration) IsAdmin(pubkey string) bool {
	return c.adminWhitelist.Contains(pubkey)
}

// IsCommerceWhitelisted reports whether pubkey may sell on the platform.
func (c *Configuration) IsCommerceWhitelisted(pubkey string) bool {
	return c.commerceWhitelist.Contains(pubkey)
}

// IsCourierWhitelisted reports whether pubkey may deliver orders.
func (c *Configuration) IsCourierWhitelisted(pubkey string) bool {
	return c.courierWhitelist.Contains(pubkey)
}

// IsConsumerBlacklisted reports whether pubkey is barred from ordering.
func (c *Configuration) IsConsumerBlacklisted(pubkey string) bool {
	return c.consumerBlacklist.Contains(pubkey)
}

// IsRegistered reports whether pubkey completed user registration.
func (c *Configuration) IsRegistered(pubkey string) bool {
	return c.userRegistrations.Contains(pubkey)
}

// ExchangeRate returns the fiat units per BTC.
func (c *Configuration) ExchangeRate() float64 {
	return c.exchangeRate
}

func (c *Configuration) list(t ConfigType) (*fn.Set[string], error) {
	switch t {
	case AdminWhitelist:
		return &c.adminWhitelist, nil
	case CommerceWhitelist:
		return &c.commerceWhitelist, nil
	case CourierWhitelist:
		return &c.courierWhitelist, nil
	case ConsumerBlacklist:
		return &c.consumerBlacklist, nil
	case UserRegistrations:
		return &c.userRegistrations, nil
	default:
		return nil, fmt.Errorf("%w: %v is not a key list",
			ErrUnknownConfigType, t)
	}
}

// Keys returns the sorted members of a key list.
func (c *Configuration) Keys(t ConfigType) ([]string, error) {
	set, err := c.list(t)
	if err != nil {
		return nil, err
	}

	keys := set.ToSlice()
	slices.Sort(keys)

	return keys, nil
}

// SetKeys replaces a key list. Every member must be a valid public key.
func (c *Configuration) SetKeys(t ConfigType, keys []string) error {
	set, err := c.list(t)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if !nostr.ValidPubKey(key) {
			return fmt.Errorf("%w: %q", ErrInvalidKeyList, key)
		}
	}

	*set = fn.NewSet(keys...)

	return nil
}

// SetExchangeRate replaces the exchange rate.
func (c *Configuration) SetExchangeRate(rate float64) error {
	if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	c.exchangeRate = rate

	return nil
}

// Apply sets the entry of type t from its serialized value: a JSON list of
// public keys for the key lists and a decimal number for the exchange rate.
func (c *Configuration) Apply(t ConfigType, value string) error {
	if t == ExchangeRate {
		var rate float64
		if err := json.Unmarshal([]byte(value), &rate); err != nil {
			// Admin tools send the rate as a bare or quoted string.
			rate, err = strconv.ParseFloat(
				strings.Trim(strings.TrimSpace(value), `"`), 64,
			)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidRate, value)
			}
		}

		return c.SetExchangeRate(rate)
	}

	var keys []string
	if err := json.Unmarshal([]byte(value), &keys); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyList, err)
	}

	return c.SetKeys(t, keys)
}

// Value returns the serialized value of the entry of type t.
func (c *Configuration) Value(t ConfigType) (string, error) {
	if t == ExchangeRate {
		return strconv.FormatFloat(c.exchangeRate, 'f', -1, 64), nil
	}

	keys, err := c.Keys(t)
	if err != nil {
		return "", err
	}
	if keys == nil {
		keys = []string{}
	}

	raw, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

// Sign creates the config note publishing the entry of type t. Private types
// are encrypted to the platform key itself.
func (c *Configuration) Sign(keys *nostr.Keys, t ConfigType) (*nostr.Note,
	error) {

	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConfigType, t)
	}

	value, err := c.Value(t)
	if err != nil {
		return nil, err
	}

	note := &nostr.Note{
		Kind:    orders.KindAdminConfig,
		Content: value,
		Tags:    nostr.Tags{{"d", t.Tag()}},
	}

	if t.Private() {
		err = keys.SignEncrypted(note, keys.PublicKey())
	} else {
		err = keys.Sign(note)
	}
	if err != nil {
		return nil, err
	}

	return note, nil
}

// ApplyNote applies a config note authored by the platform key and returns
// the type it carried.
func (c *Configuration) ApplyNote(keys *nostr.Keys,
	n *nostr.Note) (ConfigType, error) {

	if n.PubKey != keys.PublicKey() {
		return 0, ErrNotPlatformNote
	}

	tag, ok := n.Tags.First("d")
	if !ok {
		return 0, ErrMissingConfigType
	}
	t, err := ParseConfigType(tag)
	if err != nil {
		return 0, err
	}

	value := n.Content
	if t.Private() {
		value, err = keys.Decrypt(n)
		if err != nil {
			return 0, fmt.Errorf("decrypt %v: %w", t, err)
		}
	}

	if err := c.Apply(t, value); err != nil {
		return 0, err
	}

	return t, nil
}

// ServerRequest is an admin's request to replace one configuration entry.
type ServerRequest struct {
	ConfigType ConfigType `json:"config_type"`
	ConfigStr  string     `json:"config_str"`
}

// ParseServerRequest decodes the inner note of an admin request envelope.
func ParseServerRequest(n *nostr.Note) (*ServerRequest, error) {
	var req ServerRequest
	if err := json.Unmarshal([]byte(n.Content), &req); err != nil {
		return nil, err
	}

	return &req, nil
}

// Sign creates the signed inner note of the request. It still has to be
// wrapped for the platform key.
func (r *ServerRequest) Sign(keys *nostr.Keys) (*nostr.Note, error) {
	content, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	note := &nostr.Note{
		Kind:    orders.KindAdminRequest,
		Content: string(content),
	}
	if err := keys.Sign(note); err != nil {
		return nil, err
	}

	return note, nil
}
