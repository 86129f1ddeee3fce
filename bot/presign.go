package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightninglabs/neutrino/cache"
	"golang.org/x/time/rate"
)

// cachedLimiter is the presign limiter of one participant.
type cachedLimiter struct {
	*rate.Limiter
}

// Size returns the "size" of an entry.
func (c *cachedLimiter) Size() (uint64, error) {
	return 1, nil
}

// allowPresign consumes one presign token of pubkey.
func (b *Bot) allowPresign(pubkey string) bool {
	limiter, err := b.limiters.Get(pubkey)
	if errors.Is(err, cache.ErrElementNotFound) {
		limiter = &cachedLimiter{rate.NewLimiter(
			rate.Every(b.cfg.PresignInterval), b.cfg.PresignBurst,
		)}
		_, _ = b.limiters.Put(pubkey, limiter)
	}

	return limiter.AllowN(b.cfg.Clock.Now(), 1)
}

// handlePresign answers an upload request of a registered consumer or a
// whitelisted merchant with a presigned URL encrypted to the requester.
func (b *Bot) handlePresign(ctx context.Context, m PresignRequestMsg) error {
	if b.cfg.Uploads == nil {
		return ErrUploadsDisabled
	}

	requester := m.Signer()
	if !b.cfg.Registry.IsRegisteredUser(requester) &&
		!b.cfg.Registry.IsCommerceWhitelisted(requester) {

		return fmt.Errorf("%w: presign for %s", ErrUnauthorized,
			requester)
	}

	if !b.allowPresign(requester) {
		b.cfg.Metrics.PresignDenied()
		return fmt.Errorf("%w: presign for %s", ErrRateLimited,
			requester)
	}

	presigned, err := b.cfg.Uploads.Sign(m.Request)
	if err != nil {
		return err
	}
	if err := b.cfg.Uploads.Register(ctx, presigned.Key); err != nil {
		return fmt.Errorf("register upload: %w", err)
	}

	content, err := json.Marshal(presigned)
	if err != nil {
		return err
	}

	reply := &nostr.Note{
		Kind:    orders.KindPresignResponse,
		Content: string(content),
	}
	reply.Tags.Add("e", m.Note.ID)
	if err := b.cfg.Keys.SignEncrypted(reply, requester); err != nil {
		return err
	}

	log.Debugf("Presigned upload %s for %s", presigned.Key, requester)

	b.cfg.Metrics.NotesBroadcast(1)

	return b.cfg.Broadcaster.Broadcast(ctx, reply)
}
