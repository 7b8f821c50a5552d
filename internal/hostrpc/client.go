package hostrpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// ClientConfig configures a remote engine.
type ClientConfig struct {
	// URL is the server base URL, e.g. http://127.0.0.1:8443.
	URL string

	// H2C speaks HTTP/2 without TLS. Requires an http:// URL.
	H2C bool

	// Timeout bounds each call (default: 30s).
	Timeout time.Duration

	// HTTPClient overrides the transport entirely.
	HTTPClient *http.Client
}

// Client is a host engine reached over HTTP. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// Ensure Client implements subtle.Host.
var _ subtle.Host = (*Client)(nil)

// NewClient creates a remote engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote engine URL is required")
	}
	if cfg.H2C && !strings.HasPrefix(cfg.URL, "http://") {
		return nil, fmt.Errorf("h2c requires an http:// URL, got %s", cfg.URL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
		if cfg.H2C {
			hc.Transport = &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			}
		}
	}
	return &Client{base: strings.TrimRight(cfg.URL, "/"), http: hc}, nil
}

// call posts one host operation and decodes its result.
func (c *Client) call(op string, in *Call) (*Result, error) {
	body, err := Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("hostrpc %s: failed to encode request: %w", op, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.base+"/v1/host/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hostrpc %s: %w", op, err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hostrpc %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("hostrpc %s: failed to read response: %w", op, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("hostrpc %s: %w: response exceeds %d bytes", op, ErrMalformedResponse, maxBodySize)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if err := Unmarshal(data, &apiErr); err != nil || apiErr.Code == "" {
			return nil, &RemoteError{Op: op, Status: resp.StatusCode, Code: CodeInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, decodeError(op, resp.StatusCode, &apiErr)
	}

	var out Result
	if err := Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("hostrpc %s: %w: invalid CBOR: %v", op, ErrMalformedResponse, err)
	}
	return &out, nil
}

func (c *Client) data(op string, in *Call) ([]byte, error) {
	res, err := c.call(op, in)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *Client) text(op string, in *Call) (string, error) {
	res, err := c.call(op, in)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (c *Client) ok(op string, in *Call) (bool, error) {
	res, err := c.call(op, in)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (c *Client) KeyExists(name string) (bool, error) {
	return c.ok(OpKeyExists, &Call{KeyName: name})
}

func (c *Client) GenerateKey(name string, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error) {
	return c.data(OpGenerateKey, &Call{KeyName: name, AlgoID: algoID, Metadata: metadata, Extractable: extractable, Usages: usages})
}

func (c *Client) Encrypt(keyName string, algoID uint32, metadata string, plaintext []byte) ([]byte, error) {
	return c.data(OpEncrypt, &Call{KeyName: keyName, AlgoID: algoID, Metadata: metadata, Data: plaintext})
}

func (c *Client) Decrypt(keyName string, algoID uint32, metadata string, ciphertext []byte) ([]byte, error) {
	return c.data(OpDecrypt, &Call{KeyName: keyName, AlgoID: algoID, Metadata: metadata, Data: ciphertext})
}

func (c *Client) Sign(keyName string, algoID uint32, metadata string, data []byte) ([]byte, error) {
	return c.data(OpSign, &Call{KeyName: keyName, AlgoID: algoID, Metadata: metadata, Data: data})
}

func (c *Client) Verify(keyName string, algoID uint32, metadata string, data, signature []byte) (bool, error) {
	return c.ok(OpVerify, &Call{KeyName: keyName, AlgoID: algoID, Metadata: metadata, Data: data, Signature: signature})
}

func (c *Client) Digest(algoID uint32, metadata string, data []byte) ([]byte, error) {
	return c.data(OpDigest, &Call{AlgoID: algoID, Metadata: metadata, Data: data})
}

func (c *Client) ImportKey(keyName string, format uint32, keyData []byte, algoID uint32, metadata string,
	extractable bool, usages []uint8) ([]byte, error) {
	return c.data(OpImportKey, &Call{
		KeyName: keyName, Format: format, Data: keyData, AlgoID: algoID, Metadata: metadata,
		Extractable: extractable, Usages: usages,
	})
}

func (c *Client) ExportKey(keyName string, format uint32) ([]byte, error) {
	return c.data(OpExportKey, &Call{KeyName: keyName, Format: format})
}

func (c *Client) WrapKey(keyName string, format uint32, wrappingKeyName string, algoID uint32, metadata string) ([]byte, error) {
	return c.data(OpWrapKey, &Call{KeyName: keyName, Format: format, OtherKey: wrappingKeyName, AlgoID: algoID, Metadata: metadata})
}

func (c *Client) UnwrapKey(unwrappingKeyName string, wrapAlgoID uint32, wrapMetadata string, keyName string, format uint32,
	wrappedKey []byte, keyAlgoID uint32, keyMetadata string, extractable bool, usages []uint8) ([]byte, error) {
	return c.data(OpUnwrapKey, &Call{
		OtherKey: unwrappingKeyName, AlgoID: wrapAlgoID, Metadata: wrapMetadata,
		KeyName: keyName, Format: format, Data: wrappedKey,
		KeyAlgoID: keyAlgoID, KeyMetadata: keyMetadata, Extractable: extractable, Usages: usages,
	})
}

func (c *Client) GetPublicKey(keyName string) ([]byte, error) {
	return c.data(OpGetPublicKey, &Call{KeyName: keyName})
}

func (c *Client) GetPublicKeyAsCryptoKey(keyName string) (string, error) {
	return c.text(OpGetPublicKeyAsCryptoKey, &Call{KeyName: keyName})
}

func (c *Client) DeriveKey(baseKeyName string, deriveAlgoID uint32, deriveMetadata string,
	derivedAlgoID uint32, derivedMetadata string, extractable bool, usages []uint8) (string, error) {
	return c.text(OpDeriveKey, &Call{
		KeyName: baseKeyName, AlgoID: deriveAlgoID, Metadata: deriveMetadata,
		KeyAlgoID: derivedAlgoID, KeyMetadata: derivedMetadata, Extractable: extractable, Usages: usages,
	})
}

func (c *Client) SaveKey(name string) error {
	_, err := c.call(OpSaveKey, &Call{KeyName: name})
	return err
}

func (c *Client) PersistKey(params []byte) error {
	_, err := c.call(OpPersistKey, &Call{Data: params})
	return err
}

func (c *Client) LoadKey(name string) (string, error) {
	return c.text(OpLoadKey, &Call{KeyName: name})
}

func (c *Client) DeleteKey(name string) error {
	_, err := c.call(OpDeleteKey, &Call{KeyName: name})
	return err
}

func (c *Client) GetRandomBytes(n int) ([]byte, error) {
	return c.data(OpGetRandomBytes, &Call{Length: n})
}
