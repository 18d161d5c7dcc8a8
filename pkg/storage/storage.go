package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/pkg/errors"
)

// TTL is how long a signed URL stays readable
const TTL = time.Hour

// Account holds the parts of a storage connection string needed for signing
type Account struct {
	Name           string
	Key            string
	Protocol       string
	EndpointSuffix string
	BlobEndpoint   string
}

// ParseConnectionString reads a `Key=Value;Key=Value` storage connection
// string. AccountName and AccountKey are required.
func ParseConnectionString(conn string) (Account, error) {
	acc := Account{Protocol: "https", EndpointSuffix: "core.windows.net"}
	for _, part := range strings.Split(conn, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// values (base64 keys) may contain '=' so split on the first one only
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Account{}, errors.Errorf("malformed connection string segment %q", part)
		}
		switch strings.ToLower(k) {
		case "accountname":
			acc.Name = v
		case "accountkey":
			acc.Key = v
		case "defaultendpointsprotocol":
			acc.Protocol = v
		case "endpointsuffix":
			acc.EndpointSuffix = v
		case "blobendpoint":
			acc.BlobEndpoint = strings.TrimSuffix(v, "/")
		}
	}

	if acc.Name == "" || acc.Key == "" {
		return Account{}, errors.New("connection string must contain AccountName and AccountKey")
	}
	return acc, nil
}

// Endpoint returns the blob service root for the account
func (a Account) Endpoint() string {
	if a.BlobEndpoint != "" {
		return a.BlobEndpoint
	}
	return fmt.Sprintf("%s://%s.blob.%s", a.Protocol, a.Name, a.EndpointSuffix)
}

// BlobURL builds the unsigned URI of a blob in container
func (a Account) BlobURL(container, name string) string {
	return a.Endpoint() + "/" + url.PathEscape(container) + "/" + strings.TrimPrefix(name, "/")
}

// Signer issues read-only account SAS tokens for blob URIs
type Signer struct {
	account Account
	cred    *azblob.SharedKeyCredential
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a Signer from a storage connection string
func NewSigner(conn string) (*Signer, error) {
	acc, err := ParseConnectionString(conn)
	if err != nil {
		return nil, errors.Wrap(err, "parse storage connection")
	}
	cred, err := azblob.NewSharedKeyCredential(acc.Name, acc.Key)
	if err != nil {
		return nil, errors.Wrap(err, "create shared key credential")
	}
	return &Signer{account: acc, cred: cred, ttl: TTL, now: time.Now}, nil
}

// Account returns the parsed account the signer was built from
func (s *Signer) Account() Account {
	return s.account
}

// SignURL returns blobURI with a SAS query granting read access to objects
// until TTL from now. Any query already on blobURI is replaced.
func (s *Signer) SignURL(ctx context.Context, blobURI string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, err := url.Parse(blobURI)
	if err != nil {
		return "", errors.Wrap(err, "parse blob URI")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("blob URI %q is not absolute", blobURI)
	}

	qp, err := sas.AccountSignatureValues{
		Protocol:      sas.ProtocolHTTPSandHTTP,
		ExpiryTime:    s.now().UTC().Add(s.ttl),
		Permissions:   (&sas.AccountPermissions{Read: true}).String(),
		ResourceTypes: (&sas.AccountResourceTypes{Object: true}).String(),
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", errors.Wrap(err, "sign account SAS")
	}

	u.RawQuery = qp.Encode()
	return u.String(), nil
}
