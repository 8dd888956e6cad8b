package bundle

import (
	"context"
	_ "crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	corev1 "k8s.io/api/core/v1"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// RemoteEntryArtifactType is the artifact type of a published remote
	RemoteEntryArtifactType = "application/vnd.mfhost.remote.v1+json"

	// RemoteEntryMediaType is the media type of a layer holding the raw entry source
	RemoteEntryMediaType = "application/vnd.mfhost.remote.entry.v1+go"

	// ZipMediaType is the media type of a ZIP layer containing the entry
	ZipMediaType = "application/zip"

	// FallbackLayerMediaType is the tar.gz layer of a plain image
	FallbackLayerMediaType = ocispec.MediaTypeImageLayerGzip

	dockerHub       = "registry-1.docker.io"
	maxManifestSize = 4 << 20
)

var manifestMediaTypes = []string{
	ocispec.MediaTypeImageManifest,
	"application/vnd.docker.distribution.manifest.v2+json",
}

// OCIFetcher pulls remote entries published as OCI artifacts. Entries are
// cached by manifest digest, so a pinned reference never touches the network
// twice and a tag costs one HEAD request once cached.
type OCIFetcher struct {
	cache      *EntryCache
	client     *http.Client
	pullSecret *corev1.Secret

	// PlainHTTP talks to the registry over http instead of https
	PlainHTTP bool
}

// NewOCIFetcher creates a fetcher authenticating with pullSecret, if any
func NewOCIFetcher(cache *EntryCache, client *http.Client, pullSecret *corev1.Secret) *OCIFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &OCIFetcher{cache: cache, client: client, pullSecret: pullSecret}
}

func (f *OCIFetcher) Type() string {
	return "oci"
}

// OCIReference names a remote entry artifact.
//
//	oci://ghcr.io/org/auth:v1.0.0
//	oci://localhost:5000/auth@sha256:...
type OCIReference struct {
	Registry   string
	Repository string
	// Tag is ignored when Digest is set
	Tag    string
	Digest string
}

// ParseOCIReference parses a reference with or without the oci:// prefix.
// A reference without a registry host resolves against Docker Hub and one
// without a tag or digest selects latest.
func ParseOCIReference(ref string) (OCIReference, error) {
	rest := strings.TrimPrefix(ref, "oci://")

	var out OCIReference
	if name, dgst, ok := strings.Cut(rest, "@"); ok {
		rest, out.Digest = name, dgst
	}
	// A colon after the last slash separates the tag, one before it a port
	if i := strings.LastIndex(rest, ":"); i > strings.LastIndex(rest, "/") {
		if out.Digest == "" {
			out.Tag = rest[i+1:]
		}
		rest = rest[:i]
	}
	if out.Tag == "" && out.Digest == "" {
		out.Tag = "latest"
	}

	host, path, ok := strings.Cut(rest, "/")
	if !ok {
		return OCIReference{}, fmt.Errorf("reference %q has no repository", ref)
	}
	if strings.ContainsAny(host, ".:") || host == "localhost" {
		out.Registry, out.Repository = host, path
	} else {
		out.Registry, out.Repository = dockerHub, rest
	}
	return out, nil
}

func (f *OCIFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	target, err := ParseOCIReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI reference: %w", err)
	}

	reg := &registryClient{http: f.client, base: f.baseURL(target.Registry), repo: target.Repository}
	if f.pullSecret != nil {
		if reg.authorization, err = registryAuthorization(f.pullSecret, target.Registry); err != nil {
			return nil, fmt.Errorf("failed to build registry credentials: %w", err)
		}
	}

	manifestDigest := target.Digest
	if manifestDigest == "" {
		if manifestDigest, err = reg.resolve(ctx, target.Tag); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", target.Tag, err)
		}
	}
	if cached, err := f.cache.Get(manifestDigest); err == nil {
		return &FetchResult{Content: cached, Digest: manifestDigest, Source: fmt.Sprintf("oci://%s (cached)", strings.TrimPrefix(ref, "oci://"))}, nil
	}

	manifest, err := reg.manifest(ctx, manifestDigest)
	if err != nil {
		return nil, err
	}
	layer, encoding, err := selectEntryLayer(manifest)
	if err != nil {
		return nil, err
	}
	blob, err := reg.blob(ctx, layer)
	if err != nil {
		return nil, err
	}
	content, err := decodeEntryLayer(blob, encoding)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer.Digest, err)
	}

	if err := f.cache.Set(manifestDigest, content); err != nil {
		logf.FromContext(ctx).Info("Failed to cache remote entry", "digest", manifestDigest, "error", err.Error())
	}
	return &FetchResult{Content: content, Digest: manifestDigest, Source: "oci://" + strings.TrimPrefix(ref, "oci://")}, nil
}

func (f *OCIFetcher) baseURL(registry string) string {
	if f.PlainHTTP {
		return "http://" + registry
	}
	return "https://" + registry
}

// registryClient speaks the distribution API for one repository
type registryClient struct {
	http          *http.Client
	base          string
	repo          string
	authorization string
}

func (c *registryClient) do(ctx context.Context, method, kind, name string, accept ...string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/v2/%s/%s/%s", c.base, c.repo, kind, name), nil)
	if err != nil {
		return nil, err
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	if len(accept) > 0 {
		req.Header.Set("Accept", strings.Join(accept, ", "))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s %s/%s: status %d: %s", method, kind, name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// resolve turns a tag into the digest of its manifest
func (c *registryClient) resolve(ctx context.Context, tag string) (string, error) {
	resp, err := c.do(ctx, http.MethodHead, "manifests", tag, manifestMediaTypes...)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	raw := resp.Header.Get("Docker-Content-Digest")
	if raw == "" {
		return "", errors.New("registry returned no Docker-Content-Digest")
	}
	dgst, err := digest.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid manifest digest %q: %w", raw, err)
	}
	return dgst.String(), nil
}

// manifest fetches the manifest addressed by dgst and checks the bytes
// against it
func (c *registryClient) manifest(ctx context.Context, dgst string) (*ocispec.Manifest, error) {
	expected, err := digest.Parse(dgst)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest digest %q: %w", dgst, err)
	}
	resp, err := c.do(ctx, http.MethodGet, "manifests", dgst, manifestMediaTypes...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if got := expected.Algorithm().FromBytes(raw); got != expected {
		return nil, fmt.Errorf("manifest digest mismatch: want %s, got %s", expected, got)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &manifest, nil
}

// blob downloads layer and verifies its size and digest
func (c *registryClient) blob(ctx context.Context, layer ocispec.Descriptor) ([]byte, error) {
	if err := layer.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layer digest: %w", err)
	}
	resp, err := c.do(ctx, http.MethodGet, "blobs", layer.Digest.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer: %w", err)
	}
	defer resp.Body.Close()

	verifier := layer.Digest.Verifier()
	body := io.Reader(resp.Body)
	if layer.Size > 0 {
		body = io.LimitReader(body, layer.Size+1)
	}
	data, err := io.ReadAll(io.TeeReader(body, verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to read layer: %w", err)
	}
	if layer.Size > 0 && int64(len(data)) != layer.Size {
		return nil, fmt.Errorf("layer %s is %d bytes, manifest says %d", layer.Digest, len(data), layer.Size)
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("layer %s failed digest verification", layer.Digest)
	}
	return data, nil
}

// entryEncoding is how a layer carries the remote entry
type entryEncoding int

const (
	encodingSniff entryEncoding = iota
	encodingRaw
	encodingZip
	encodingTarGzip
)

// selectEntryLayer picks the layer holding the entry. A layer titled after
// the entry file wins, then layers by media type, then the first layer.
func selectEntryLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, entryEncoding, error) {
	if len(manifest.Layers) == 0 {
		return ocispec.Descriptor{}, encodingSniff, errors.New("manifest has no layers")
	}
	for _, layer := range manifest.Layers {
		if layer.Annotations[ocispec.AnnotationTitle] == EntryFile {
			return layer, encodingRaw, nil
		}
	}
	for _, want := range []struct {
		mediaType string
		encoding  entryEncoding
	}{
		{RemoteEntryMediaType, encodingRaw},
		{ZipMediaType, encodingZip},
		{FallbackLayerMediaType, encodingTarGzip},
	} {
		for _, layer := range manifest.Layers {
			if layer.MediaType == want.mediaType {
				return layer, want.encoding, nil
			}
		}
	}
	return manifest.Layers[0], encodingSniff, nil
}

func decodeEntryLayer(blob []byte, encoding entryEncoding) ([]byte, error) {
	switch encoding {
	case encodingRaw:
		return blob, nil
	case encodingZip:
		return extractEntryFromZip(blob)
	case encodingTarGzip:
		return extractEntryFromTarGzip(blob)
	}
	if content, err := extractEntryFromZip(blob); err == nil {
		return content, nil
	}
	return extractEntryFromTarGzip(blob)
}

// registryAuthorization builds the Authorization header for registry from a
// pull secret
func registryAuthorization(secret *corev1.Secret, registry string) (string, error) {
	switch secret.Type {
	case corev1.SecretTypeDockerConfigJson:
		return dockerConfigAuthorization(secret.Data[corev1.DockerConfigJsonKey], registry)
	case corev1.SecretTypeBasicAuth:
		return basicAuthorization(string(secret.Data[corev1.BasicAuthUsernameKey]), string(secret.Data[corev1.BasicAuthPasswordKey])), nil
	}
	if username, ok := secret.Data["username"]; ok {
		return basicAuthorization(string(username), string(secret.Data["password"])), nil
	}
	return "", fmt.Errorf("secret of type %s has no registry credentials", secret.Type)
}

func dockerConfigAuthorization(raw []byte, registry string) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("secret has no %s", corev1.DockerConfigJsonKey)
	}
	var cfg struct {
		Auths map[string]struct {
			Auth     string `json:"auth"`
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"auths"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", fmt.Errorf("failed to parse docker config: %w", err)
	}

	for server, entry := range cfg.Auths {
		if registryHost(server) != registry {
			continue
		}
		if entry.Auth != "" {
			return "Basic " + entry.Auth, nil
		}
		return basicAuthorization(entry.Username, entry.Password), nil
	}
	return "", fmt.Errorf("docker config has no credentials for %s", registry)
}

// registryHost strips the scheme and path docker config keys may carry
func registryHost(server string) string {
	server = strings.TrimPrefix(strings.TrimPrefix(server, "https://"), "http://")
	host, _, _ := strings.Cut(server, "/")
	if host == "index.docker.io" || host == "docker.io" {
		return dockerHub
	}
	return host
}

func basicAuthorization(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
