package orders

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Coordinates is a latitude/longitude pair as sent by the clients.
type Coordinates struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// ConsumerAddress is the delivery address of an order. The geocoder lookup
// is carried through untouched.
type ConsumerAddress struct {
	Lookup      json.RawMessage `json:"lookup,omitempty"`
	Coordinates Coordinates     `json:"coordinates"`
}

// ConsumerProfile is a buyer's contact card.
type ConsumerProfile struct {
	Nickname  string  `json:"nickname"`
	Telephone string  `json:"telephone"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ParseConsumerProfile decodes a consumer profile.
func ParseConsumerProfile(content string) (*ConsumerProfile, error) {
	var p ConsumerProfile
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.Nickname == "" {
		return nil, fmt.Errorf("%w: missing nickname", ErrInvalidProfile)
	}

	return &p, nil
}

// CommerceProfile is a merchant's public profile.
type CommerceProfile struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Telephone   string          `json:"telephone"`
	Web         string          `json:"web"`
	Lookup      json.RawMessage `json:"lookup,omitempty"`
	Geolocation Coordinates     `json:"geolocation"`
	LnAddress   string          `json:"ln_address"`
	LogoURL     string          `json:"logo_url"`
	BannerURL   string          `json:"banner_url"`
}

// ParseCommerceProfile decodes a merchant profile and checks that it names a
// usable lightning address.
func ParseCommerceProfile(content string) (*CommerceProfile, error) {
	var p CommerceProfile
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}

	user, domain, ok := strings.Cut(p.LnAddress, "@")
	if !ok || user == "" || domain == "" {
		return nil, fmt.Errorf("%w: bad lightning address %q",
			ErrInvalidProfile, p.LnAddress)
	}

	return &p, nil
}

// CourierProfile is a courier's contact card.
type CourierProfile struct {
	Nickname  string `json:"nickname"`
	Telephone string `json:"telephone"`
}

// ParseCourierProfile decodes a courier profile.
func ParseCourierProfile(content string) (*CourierProfile, error) {
	var p CourierProfile
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.Nickname == "" {
		return nil, fmt.Errorf("%w: missing nickname", ErrInvalidProfile)
	}

	return &p, nil
}
