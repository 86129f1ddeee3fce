package uploads

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultRegion is the ingest region uploads are sent to.
	DefaultRegion = "sea1"

	// DefaultExpiry is how long a presigned URL stays valid.
	DefaultExpiry = time.Hour

	// MaxFileSize bounds the size of a single upload.
	MaxFileSize = 16 << 20

	signaturePrefix = "hmac-sha256="

	apiKeyHeader = "x-uploadthing-api-key"
)

// Request describes the file a participant wants to upload. It is the
// content of a presign request note.
type Request struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	Type               string `json:"type"`
	ContentDisposition string `json:"content_disposition,omitempty"`
}

// Validate checks the file description.
func (r *Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: missing file name", ErrInvalidRequest)

	case r.Size <= 0 || r.Size > MaxFileSize:
		return fmt.Errorf("%w: size %d", ErrInvalidRequest, r.Size)
	}

	return nil
}

// ParseRequest decodes a presign request.
func ParseRequest(content string) (*Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(content), &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return &req, nil
}

// PresignedURL is the reply to a presign request.
type PresignedURL struct {
	URL     string `json:"url"`
	Key     string `json:"key"`
	Expires int64  `json:"expires"`
}

// Config holds the upload service credentials.
type Config struct {
	APIKey string
	AppID  string

	// Region selects the ingest host. Defaults to DefaultRegion.
	Region string

	// IngestURL overrides the ingest base URL derived from Region.
	IngestURL string

	Expiry time.Duration

	Clock clock.Clock

	HTTPClient *http.Client
}

// Signer creates presigned upload URLs.
type Signer struct {
	cfg    Config
	ingest *url.URL
}

// NewSigner creates a signer.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.APIKey == "" || cfg.AppID == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	base := cfg.IngestURL
	if base == "" {
		base = fmt.Sprintf("https://%s.ingest.uploadthing.com",
			cfg.Region)
	}
	ingest, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest url: %w", err)
	}

	return &Signer{cfg: cfg, ingest: ingest}, nil
}

// GenerateKey returns a new file key scoped to the app.
func (s *Signer) GenerateKey() string {
	appHash := sha256.Sum256([]byte(s.cfg.AppID))
	prefix := base64.RawURLEncoding.EncodeToString(appHash[:6])
	id := uuid.New()

	return prefix + strings.ReplaceAll(id.String(), "-", "")
}

func (s *Signer) mac(msg string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.APIKey))
	mac.Write([]byte(msg))

	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Sign returns a presigned URL for uploading the described file under a
// fresh key.
func (s *Signer) Sign(req *Request) (*PresignedURL, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := s.GenerateKey()
	expires := s.cfg.Clock.Now().Add(s.cfg.Expiry).UnixMilli()

	disposition := req.ContentDisposition
	if disposition == "" {
		disposition = "inline"
	}

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("x-ut-identifier", s.cfg.AppID)
	query.Set("x-ut-file-name", req.Name)
	query.Set("x-ut-file-size", strconv.FormatInt(req.Size, 10))
	query.Set("x-ut-file-type", req.Type)
	query.Set("x-ut-content-disposition", disposition)

	target := *s.ingest
	target.Path = "/" + key
	target.RawQuery = query.Encode()

	unsigned := target.String()
	signed := unsigned + "&signature=" + url.QueryEscape(s.mac(unsigned))

	log.Debugf("Presigned upload %s (%s, %d bytes)", key, req.Name,
		req.Size)

	return &PresignedURL{URL: signed, Key: key, Expires: expires}, nil
}

// Verify checks the signature and expiry of a presigned URL.
func (s *Signer) Verify(presigned string) error {
	unsigned, sig, ok := strings.Cut(presigned, "&signature=")
	if !ok {
		return ErrBadSignature
	}
	sig, err := url.QueryUnescape(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(unsigned))) {
		return ErrBadSignature
	}

	parsed, err := url.Parse(unsigned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	expires, err := strconv.ParseInt(parsed.Query().Get("expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if s.cfg.Clock.Now().UnixMilli() > expires {
		return ErrExpired
	}

	return nil
}

// routeMetadata is the body registering upcoming uploads with the ingest
// server.
type routeMetadata struct {
	FileKeys        []string `json:"fileKeys"`
	Metadata        any      `json:"metadata"`
	IsDev           bool     `json:"isDev"`
	AwaitServerData bool     `json:"awaitServerData"`
}

// Register announces presigned keys to the ingest server so uploads to them
// are accepted.
func (s *Signer) Register(ctx context.Context, keys ...string) error {
	body, err := json.Marshal(&routeMetadata{FileKeys: keys})
	if err != nil {
		return err
	}

	target := *s.ingest
	target.Path = "/route-metadata"

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, target.String(), bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, s.cfg.APIKey)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("register upload keys: %s: %s", resp.Status,
			bytes.TrimSpace(msg))
	}

	return nil
}
