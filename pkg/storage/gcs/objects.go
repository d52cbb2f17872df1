package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	storageHost       = "storage.googleapis.com"
	signingAlgorithm  = "GOOG4-RSA-SHA256"
	maxErrorBodyBytes = 2048
)

var errSigningUnavailable = errors.New("signed urls require service account credentials")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
}

// Upload streams body into the bucket under the given object name.
func (b *Bucket) Upload(ctx context.Context, name, contentType string, body io.Reader) (*ObjectInfo, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("gcs bucket not initialized")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("object name is required")
	}

	token, err := b.client.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"https://%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		storageHost,
		url.PathEscape(b.name),
		url.QueryEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gcs upload failed", resp)
	}

	var meta struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}

	info := &ObjectInfo{
		Bucket:      b.name,
		Name:        meta.Name,
		ContentType: meta.ContentType,
	}
	fmt.Sscanf(meta.Size, "%d", &info.Size)
	return info, nil
}

// Download fetches object contents. The caller must close the reader.
func (b *Bucket) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("gcs bucket not initialized")
	}

	token, err := b.client.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"https://%s/storage/v1/b/%s/o/%s?alt=media",
		storageHost,
		url.PathEscape(b.name),
		url.PathEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError("gcs download failed", resp)
	}
	return resp.Body, nil
}

// Delete removes the object. Missing objects are treated as deleted.
func (b *Bucket) Delete(ctx context.Context, name string) error {
	if b == nil || b.client == nil {
		return errors.New("gcs bucket not initialized")
	}

	token, err := b.client.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://%s/storage/v1/b/%s/o/%s",
		storageHost,
		url.PathEscape(b.name),
		url.PathEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("gcs delete failed", resp)
	}
	return nil
}

// PublicURL returns the unauthenticated object URL.
func (b *Bucket) PublicURL(name string) string {
	return fmt.Sprintf("https://%s/%s/%s", storageHost, b.name, name)
}

// SignedURL builds a V4 signed GET URL for the object.
func (b *Bucket) SignedURL(name string, expiry time.Duration) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("gcs bucket not initialized")
	}
	if b.client.signingKey == nil || b.client.signingEmail == "" {
		return "", errSigningUnavailable
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	now := time.Now().UTC()
	datestamp := now.Format("20060102")
	timestamp := now.Format("20060102T150405Z")
	credentialScope := fmt.Sprintf("%s/auto/storage/goog4_request", datestamp)
	credential := fmt.Sprintf("%s/%s", b.client.signingEmail, credentialScope)

	query := url.Values{}
	query.Set("X-Goog-Algorithm", signingAlgorithm)
	query.Set("X-Goog-Credential", credential)
	query.Set("X-Goog-Date", timestamp)
	query.Set("X-Goog-Expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	query.Set("X-Goog-SignedHeaders", "host")

	canonicalURI := fmt.Sprintf("/%s/%s", b.name, escapePath(name))
	canonicalQuery := canonicalQueryString(query)
	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		canonicalURI,
		canonicalQuery,
		"host:" + storageHost,
		"",
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")

	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		timestamp,
		credentialScope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	digest := sha256.Sum256([]byte(stringToSign))
	signature, err := rsa.SignPKCS1v15(rand.Reader, b.client.signingKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing url: %w", err)
	}

	return fmt.Sprintf(
		"https://%s%s?%s&X-Goog-Signature=%s",
		storageHost,
		canonicalURI,
		canonicalQuery,
		hex.EncodeToString(signature),
	), nil
}

// CanSign reports whether signed URLs can be generated.
func (c *Client) CanSign() bool {
	return c != nil && c.signingKey != nil && c.signingEmail != ""
}

func canonicalQueryString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", percentEncode(key), percentEncode(values.Get(key))))
	}
	return strings.Join(parts, "&")
}

func percentEncode(value string) string {
	escaped := url.QueryEscape(value)
	return strings.ReplaceAll(escaped, "+", "%20")
}

func escapePath(name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = percentEncode(segment)
	}
	return strings.Join(segments, "/")
}

func statusError(msg string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if len(body) > 0 {
		return fmt.Errorf("%s: %s: %s", msg, resp.Status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("%s: %s", msg, resp.Status)
}
