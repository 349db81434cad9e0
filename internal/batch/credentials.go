package batch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

const (
	AuthorizationHeader = "authorization"
	DateHeader          = "x-batch-date"

	sharedKeyScheme = "SharedKey"

	// MaxClockSkew bounds how far a request's date may be from the server's clock.
	MaxClockSkew = 15 * time.Minute
)

// Sign returns the shared-key signature of a call to method at date.
func Sign(key []byte, method, date string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(method + "\n" + date))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SharedKeyCredentials signs every RPC with the account key.
type SharedKeyCredentials struct {
	account string
	key     []byte
	now     func() time.Time
}

func NewSharedKeyCredentials(account, key string) *SharedKeyCredentials {
	return &SharedKeyCredentials{account: account, key: []byte(key), now: time.Now}
}

func (c *SharedKeyCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	ri, ok := credentials.RequestInfoFromContext(ctx)
	if !ok {
		return nil, errors.New("shared key credentials: no request info in context")
	}
	date := c.now().UTC().Format(time.RFC3339)
	return map[string]string{
		AuthorizationHeader: fmt.Sprintf("%s %s:%s", sharedKeyScheme, c.account, Sign(c.key, ri.Method, date)),
		DateHeader:          date,
	}, nil
}

// RequireTransportSecurity is false so the local daemon can be reached over
// plaintext.
func (c *SharedKeyCredentials) RequireTransportSecurity() bool {
	return false
}

// VerifySharedKey checks the signature carried in md for a call to method.
func VerifySharedKey(md metadata.MD, method, account string, key []byte, now time.Time) error {
	auth := first(md, AuthorizationHeader)
	if auth == "" {
		return errors.New("missing authorization")
	}
	scheme, cred, ok := strings.Cut(auth, " ")
	if !ok || scheme != sharedKeyScheme {
		return fmt.Errorf("unsupported authorization scheme %q", scheme)
	}
	gotAccount, sig, ok := strings.Cut(cred, ":")
	if !ok || gotAccount != account {
		return errors.New("unknown account")
	}

	date := first(md, DateHeader)
	ts, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", DateHeader, err)
	}
	if skew := now.Sub(ts); skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("request date %s outside allowed clock skew", date)
	}

	want := Sign(key, method, date)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
