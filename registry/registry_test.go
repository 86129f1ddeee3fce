package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/stretchr/testify/require"
)

const (
	testCommerceProfile = `{"name":"Warung","description":"","telephone":"",` +
		`"web":"","geolocation":{"latitude":"5.8","longitude":"-55.1"},` +
		`"ln_address":"warung@pay.example.com","logo_url":"",` +
		`"banner_url":""}`

	testMenu = `{"categories":[{"id":"c1","name":"Food","order":1,` +
		`"products":[{"id":"roti","name":"Roti","price":"35.50",` +
		`"order":1,"category":"c1","details":"","description":""}]}]}`
)

func newKeys(t *testing.T) *nostr.Keys {
	t.Helper()

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	return keys
}

func signNote(t *testing.T, keys *nostr.Keys, kind uint32,
	content string) *nostr.Note {

	t.Helper()

	note := &nostr.Note{Kind: kind, Content: content}
	require.NoError(t, keys.Sign(note))

	return note
}

// newOrder returns a fresh order state signed by a new buyer.
func newOrder(t *testing.T, commerce string) *orders.OrderInvoiceState {
	t.Helper()

	content, err := json.Marshal(&orders.OrderRequest{
		Commerce: commerce,
		Profile:  orders.ConsumerProfile{Nickname: "buyer"},
		Products: orders.ProductOrder{
			Products: []orders.ProductItem{{ID: "roti", Price: "35.50"}},
		},
	})
	require.NoError(t, err)

	note := signNote(t, newKeys(t), orders.KindOrderRequest, string(content))

	return orders.NewOrderInvoiceState(
		note, &orders.CommerceInvoice{PaymentRequest: "lnbc1merchant"},
		&orders.ConsumerInvoice{PaymentRequest: "lnbc1hodl"},
	)
}

func adminRequest(t *testing.T, r *Registry, platform *nostr.Keys,
	admin string, ct adminconf.ConfigType, value string) *nostr.Note {

	t.Helper()

	note, err := r.ApplyAdminRequest(platform, admin,
		&adminconf.ServerRequest{ConfigType: ct, ConfigStr: value})
	require.NoError(t, err)

	return note
}

// TestFindCommerce checks the readiness conditions of a merchant.
func TestFindCommerce(t *testing.T) {
	t.Parallel()

	platform := newKeys(t)
	admin := newKeys(t).PublicKey()
	merchant := newKeys(t)

	r := New(admin)

	_, err := r.FindCommerce(merchant.PublicKey())
	require.ErrorIs(t, err, ErrNotWhitelisted)

	adminRequest(t, r, platform, admin, adminconf.CommerceWhitelist,
		`["`+merchant.PublicKey()+`"]`)

	_, err = r.FindCommerce(merchant.PublicKey())
	require.ErrorIs(t, err, ErrUnknownCommerce)

	require.NoError(t, r.UpsertCommerceProfile(signNote(
		t, merchant, orders.KindCommerceProfile, testCommerceProfile,
	)))

	_, err = r.FindCommerce(merchant.PublicKey())
	require.ErrorIs(t, err, ErrCommerceIncomplete)

	require.NoError(t, r.UpsertCommerceMenu(signNote(
		t, merchant, orders.KindCommerceMenu, testMenu,
	)))

	commerce, err := r.FindCommerce(merchant.PublicKey())
	require.NoError(t, err)
	require.Equal(t, "warung@pay.example.com", commerce.Profile.LnAddress)
	_, ok := commerce.Menu.Find("roti")
	require.True(t, ok)

	err = r.UpsertCommerceProfile(signNote(
		t, merchant, orders.KindCommerceProfile, `{"name":""}`,
	))
	require.ErrorIs(t, err, orders.ErrInvalidProfile)
}

// TestFindWhitelistedCourier checks that couriers need both a profile and
// a whitelist entry.
func TestFindWhitelistedCourier(t *testing.T) {
	t.Parallel()

	platform := newKeys(t)
	admin := newKeys(t).PublicKey()
	courier := newKeys(t)

	r := New(admin)

	profile := signNote(t, courier, orders.KindCourierProfilePublic,
		`{"nickname":"speedy","telephone":"+597"}`)
	require.NoError(t, r.UpsertCourierProfile(profile, profile.Content))

	_, err := r.FindWhitelistedCourier(courier.PublicKey())
	require.ErrorIs(t, err, ErrNotWhitelisted)

	adminRequest(t, r, platform, admin, adminconf.CourierWhitelist,
		`["`+courier.PublicKey()+`"]`)

	note, err := r.FindWhitelistedCourier(courier.PublicKey())
	require.NoError(t, err)
	require.Equal(t, profile.ID, note.ID)

	stranger := newKeys(t).PublicKey()
	adminRequest(t, r, platform, admin, adminconf.CourierWhitelist,
		`["`+courier.PublicKey()+`","`+stranger+`"]`)

	_, err = r.FindWhitelistedCourier(stranger)
	require.ErrorIs(t, err, ErrUnknownCourier)
}

// TestAdminRequests checks admin authorization and the published notes.
func TestAdminRequests(t *testing.T) {
	t.Parallel()

	platform := newKeys(t)
	admin := newKeys(t).PublicKey()
	intruder := newKeys(t).PublicKey()

	r := New(admin)

	_, err := r.ApplyAdminRequest(platform, intruder,
		&adminconf.ServerRequest{
			ConfigType: adminconf.ExchangeRate,
			ConfigStr:  "1",
		})
	require.ErrorIs(t, err, ErrNotWhitelisted)

	_, err = r.ApplyAdminRequest(platform, admin,
		&adminconf.ServerRequest{
			ConfigType: adminconf.ExchangeRate,
			ConfigStr:  "-1",
		})
	require.ErrorIs(t, err, adminconf.ErrInvalidRate)
	require.Equal(t, adminconf.DefaultExchangeRate, r.ExchangeRate())

	note := adminRequest(t, r, platform, admin, adminconf.ExchangeRate,
		"50000")
	require.Equal(t, 50000.0, r.ExchangeRate())
	require.Equal(t, platform.PublicKey(), note.PubKey)

	// The platform's own note is accepted back without a whitelist
	// check, older notes are not.
	restored := New()
	ct, err := restored.ApplyConfigNote(platform, note)
	require.NoError(t, err)
	require.Equal(t, adminconf.ExchangeRate, ct)
	require.Equal(t, 50000.0, restored.ExchangeRate())

	stale := note.Clone()
	stale.CreatedAt--
	_, err = restored.ApplyConfigNote(platform, stale)
	require.ErrorIs(t, err, ErrStaleConfig)

	blacklisted := newKeys(t).PublicKey()
	adminRequest(t, r, platform, admin, adminconf.ConsumerBlacklist,
		`["`+blacklisted+`"]`)
	require.ErrorIs(t, r.CheckConsumer(blacklisted), ErrBlacklisted)
	require.NoError(t, r.CheckConsumer(intruder))
}

// TestUpdateOrder checks commit, rollback and change detection.
func TestUpdateOrder(t *testing.T) {
	t.Parallel()

	r := New()
	state := newOrder(t, newKeys(t).PublicKey())

	require.NoError(t, r.AddOrder(state))
	require.ErrorIs(t, r.AddOrder(state), ErrOrderExists)

	_, _, err := r.UpdateOrder("missing", func(*orders.OrderInvoiceState) error {
		return nil
	})
	require.ErrorIs(t, err, ErrOrderNotFound)

	next, changed, err := r.UpdateOrder(state.ID(),
		(*orders.OrderInvoiceState).MarkPaymentReceived)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, orders.PaymentReceived, next.PaymentStatus)

	// Re-delivery does not change progress.
	_, changed, err = r.UpdateOrder(state.ID(),
		(*orders.OrderInvoiceState).MarkPaymentReceived)
	require.NoError(t, err)
	require.False(t, changed)

	// A failing mutation leaves the state untouched.
	boom := errors.New("boom")
	_, _, err = r.UpdateOrder(state.ID(),
		func(s *orders.OrderInvoiceState) error {
			s.OrderStatus = orders.Completed
			return boom
		})
	require.ErrorIs(t, err, boom)

	// So does one breaking an invariant.
	_, _, err = r.UpdateOrder(state.ID(),
		func(s *orders.OrderInvoiceState) error {
			s.PaymentStatus = orders.PaymentFailed
			return nil
		})
	require.ErrorIs(t, err, orders.ErrInvariant)

	current, err := r.Order(state.ID())
	require.NoError(t, err)
	require.Equal(t, orders.PaymentReceived, current.PaymentStatus)
	require.Equal(t, orders.Pending, current.OrderStatus)

	// Copies handed out are not shared.
	current.OrderStatus = orders.Completed
	again, err := r.Order(state.ID())
	require.NoError(t, err)
	require.Equal(t, orders.Pending, again.OrderStatus)

	require.Len(t, r.LiveOrders(), 1)
	_, _, err = r.UpdateOrder(state.ID(),
		(*orders.OrderInvoiceState).Cancel)
	require.NoError(t, err)
	require.Empty(t, r.LiveOrders())
	require.Equal(t, 1, r.NumOrders())
}

// TestConcurrentCourierClaims checks that exactly one of many concurrent
// claims wins.
func TestConcurrentCourierClaims(t *testing.T) {
	t.Parallel()

	r := New()
	state := newOrder(t, newKeys(t).PublicKey())
	require.NoError(t, state.MarkPaymentSuccess())
	require.NoError(t, state.MarkReadyForDelivery())
	require.NoError(t, r.AddOrder(state))

	const claims = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < claims; i++ {
		courier := signNote(t, newKeys(t), orders.KindCourierProfilePublic,
			`{"nickname":"c"}`)

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, changed, err := r.UpdateOrder(state.ID(),
				func(s *orders.OrderInvoiceState) error {
					return s.AssignCourier(courier)
				})
			if err != nil {
				require.ErrorIs(t, err, orders.ErrCourierAssigned)
				return
			}
			if changed {
				mu.Lock()
				winners = append(winners, courier.PubKey)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)

	final, err := r.Order(state.ID())
	require.NoError(t, err)
	require.Equal(t, winners[0], final.CourierPubKey())
}
