package bundle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ConfigMapFetcher fetches content from Kubernetes ConfigMaps
type ConfigMapFetcher struct {
	client    client.Client
	namespace string
}

// NewConfigMapFetcher creates a ConfigMap fetcher. namespace is used for
// references that do not name one.
func NewConfigMapFetcher(k8sClient client.Client, namespace string) *ConfigMapFetcher {
	return &ConfigMapFetcher{
		client:    k8sClient,
		namespace: namespace,
	}
}

// Type returns the fetcher type
func (f *ConfigMapFetcher) Type() string {
	return "configmap"
}

// ConfigMapRef is a parsed configmap:// reference
type ConfigMapRef struct {
	Namespace string
	Name      string
	Key       string
}

// Fetch retrieves content from a ConfigMap
// ref format: configmap://namespace/name[/key] or configmap://name
func (f *ConfigMapFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	cmRef, err := ParseConfigMapRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid ConfigMap reference: %w", err)
	}
	if cmRef.Namespace == "" {
		cmRef.Namespace = f.namespace
	}

	cm := &corev1.ConfigMap{}
	if err := f.client.Get(ctx, client.ObjectKey{
		Namespace: cmRef.Namespace,
		Name:      cmRef.Name,
	}, cm); err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap %s/%s: %w", cmRef.Namespace, cmRef.Name, err)
	}

	content, err := ExtractConfigMapContent(cm, cmRef.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content from ConfigMap %s/%s: %w", cmRef.Namespace, cmRef.Name, err)
	}

	// Use resourceVersion as the digest for change detection
	digest := string(cm.UID) + ":" + cm.ResourceVersion

	return &FetchResult{
		Content: content,
		Digest:  digest,
		Source:  fmt.Sprintf("configmap://%s/%s", cmRef.Namespace, cmRef.Name),
	}, nil
}

// ParseConfigMapRef parses a ConfigMap reference
// Supports formats:
//   - configmap://name
//   - configmap://namespace/name
//   - configmap://namespace/name/key
func ParseConfigMapRef(ref string) (ConfigMapRef, error) {
	rest, ok := strings.CutPrefix(ref, "configmap://")
	if !ok {
		return ConfigMapRef{}, fmt.Errorf("missing configmap:// prefix in %q", ref)
	}

	parts := strings.SplitN(rest, "/", 3)
	for _, p := range parts {
		if p == "" {
			return ConfigMapRef{}, fmt.Errorf("empty path segment in %q", ref)
		}
	}

	switch len(parts) {
	case 1:
		return ConfigMapRef{Name: parts[0]}, nil
	case 2:
		return ConfigMapRef{Namespace: parts[0], Name: parts[1]}, nil
	default:
		return ConfigMapRef{Namespace: parts[0], Name: parts[1], Key: parts[2]}, nil
	}
}

// ExtractConfigMapContent extracts content from a ConfigMap
// It looks for:
// 1. The requested key, when one is given
// 2. A key named EntryFile
// 3. The only .go key
// 4. The only key
func ExtractConfigMapContent(cm *corev1.ConfigMap, key string) ([]byte, error) {
	if key != "" {
		return lookupConfigMapKey(cm, key)
	}

	if content, err := lookupConfigMapKey(cm, EntryFile); err == nil {
		return content, nil
	}

	keys := configMapKeys(cm)
	if len(keys) == 0 {
		return nil, fmt.Errorf("ConfigMap has no data")
	}

	var goKeys []string
	for _, k := range keys {
		if strings.HasSuffix(k, ".go") {
			goKeys = append(goKeys, k)
		}
	}
	if len(goKeys) == 1 {
		return lookupConfigMapKey(cm, goKeys[0])
	}

	if len(keys) == 1 {
		return lookupConfigMapKey(cm, keys[0])
	}

	return nil, fmt.Errorf("ConfigMap has %d keys and none is %s", len(keys), EntryFile)
}

func lookupConfigMapKey(cm *corev1.ConfigMap, key string) ([]byte, error) {
	if content, ok := cm.Data[key]; ok {
		return []byte(content), nil
	}
	if content, ok := cm.BinaryData[key]; ok {
		return content, nil
	}
	return nil, fmt.Errorf("key %q not found", key)
}

func configMapKeys(cm *corev1.ConfigMap) []string {
	keys := make([]string, 0, len(cm.Data)+len(cm.BinaryData))
	for k := range cm.Data {
		keys = append(keys, k)
	}
	for k := range cm.BinaryData {
		keys = append(keys, k)
	}
	// Sort for deterministic ordering
	sort.Strings(keys)
	return keys
}
