package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
	corev1 "k8s.io/api/core/v1"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// GitFetcher reads a remote entry committed to a Git repository. The
// advertised references are listed first so an entry already cached for the
// resolved commit is served without cloning.
type GitFetcher struct {
	cache      *EntryCache
	pullSecret *corev1.Secret
	workDir    string
}

// NewGitFetcher creates a fetcher authenticating with pullSecret, if any
func NewGitFetcher(cache *EntryCache, pullSecret *corev1.Secret) *GitFetcher {
	return &GitFetcher{cache: cache, pullSecret: pullSecret, workDir: os.TempDir()}
}

func (f *GitFetcher) Type() string {
	return "git"
}

// GitSource locates a remote entry inside a repository.
//
//	git+https://github.com/org/remotes.git?ref=v1.0.0&path=apps/auth
type GitSource struct {
	// Repository is the clone URL
	Repository string
	// Revision is a branch, tag or commit. Empty selects the default branch.
	Revision string
	// Dir is the directory holding the entry, or the entry file itself
	Dir string
}

// ParseGitSource parses a git+ reference
func ParseGitSource(ref string) (*GitSource, error) {
	u, err := url.Parse(strings.TrimPrefix(ref, "git+"))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("missing scheme in %q", ref)
	}

	query := u.Query()
	u.RawQuery = ""
	repository := u.String()
	if u.Scheme != "file" && !strings.HasSuffix(repository, ".git") {
		repository += ".git"
	}
	return &GitSource{Repository: repository, Revision: query.Get("ref"), Dir: query.Get("path")}, nil
}

// gitRevision is a revision resolved against the advertised references
type gitRevision struct {
	// name is the reference to clone. Empty clones the default branch in
	// full.
	name plumbing.ReferenceName
	// commit is zero when only a commit prefix is known
	commit plumbing.Hash
}

func (r gitRevision) known() bool {
	return !r.commit.IsZero()
}

func (f *GitFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	src, err := ParseGitSource(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid Git reference: %w", err)
	}
	auth, err := gitAuthFromSecret(f.pullSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to build Git auth: %w", err)
	}

	refs, err := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{src.Repository},
	}).ListContext(ctx, &git.ListOptions{Auth: auth, PeelingOption: git.AppendPeeled})
	if err != nil {
		return nil, fmt.Errorf("failed to list references of %s: %w", src.Repository, err)
	}
	rev, err := matchRevision(refs, src.Revision)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Repository, err)
	}

	if rev.known() {
		if cached, err := f.cache.Get(gitCacheKey(src, rev.commit)); err == nil {
			return &FetchResult{
				Content: cached,
				Digest:  rev.commit.String(),
				Source:  fmt.Sprintf("git://%s (cached)", ref),
			}, nil
		}
	}

	content, commit, err := f.checkout(ctx, src, rev, auth)
	if err != nil {
		return nil, err
	}

	key := gitCacheKey(src, commit)
	if rev.known() {
		key = gitCacheKey(src, rev.commit)
	}
	if err := f.cache.Set(key, content); err != nil {
		logf.FromContext(ctx).Info("Failed to cache remote entry", "repository", src.Repository, "error", err.Error())
	}

	return &FetchResult{
		Content: content,
		Digest:  commit.String(),
		Source:  fmt.Sprintf("git://%s@%s", src.Repository, commit.String()[:7]),
	}, nil
}

// checkout clones rev into a scratch directory and reads the entry
func (f *GitFetcher) checkout(ctx context.Context, src *GitSource, rev gitRevision, auth transport.AuthMethod) ([]byte, plumbing.Hash, error) {
	dir, err := os.MkdirTemp(f.workDir, "mfhost-git-*")
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	opts := &git.CloneOptions{URL: src.Repository, Auth: auth, Progress: io.Discard}
	if rev.name != "" {
		opts.ReferenceName = rev.name
		opts.SingleBranch = true
		opts.Depth = 1
	}
	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("failed to clone %s: %w", src.Repository, err)
	}

	if rev.name == "" && src.Revision != "" {
		if err := checkoutCommit(repo, src.Revision); err != nil {
			return nil, plumbing.ZeroHash, err
		}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("failed to read HEAD: %w", err)
	}
	content, err := readEntry(os.DirFS(dir), src.Dir)
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("failed to read remote entry at %s: %w", head.Hash().String()[:7], err)
	}
	return content, head.Hash(), nil
}

func checkoutCommit(repo *git.Repository, revision string) error {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return fmt.Errorf("failed to resolve commit %s: %w", revision, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return fmt.Errorf("failed to check out %s: %w", revision, err)
	}
	return nil
}

// matchRevision resolves revision against the advertised references. An empty
// revision follows HEAD. Branches win over tags, and a revision matching no
// reference is taken as a commit when it looks like one.
func matchRevision(refs []*plumbing.Reference, revision string) (gitRevision, error) {
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, r := range refs {
		byName[r.Name()] = r
	}

	if revision == "" {
		head, ok := byName[plumbing.HEAD]
		if !ok {
			return gitRevision{}, errors.New("no HEAD advertised")
		}
		if head.Type() == plumbing.SymbolicReference {
			target, ok := byName[head.Target()]
			if !ok {
				return gitRevision{}, fmt.Errorf("HEAD points to missing %s", head.Target())
			}
			return gitRevision{name: target.Name(), commit: target.Hash()}, nil
		}
		return gitRevision{commit: head.Hash()}, nil
	}

	if branch, ok := byName[plumbing.NewBranchReferenceName(revision)]; ok {
		return gitRevision{name: branch.Name(), commit: branch.Hash()}, nil
	}
	tagName := plumbing.NewTagReferenceName(revision)
	if tag, ok := byName[tagName]; ok {
		commit := tag.Hash()
		// Annotated tags advertise the tagged commit as a peeled reference
		if peeled, ok := byName[plumbing.ReferenceName(tagName.String()+"^{}")]; ok {
			commit = peeled.Hash()
		}
		return gitRevision{name: tagName, commit: commit}, nil
	}

	if isCommitHash(revision) {
		rev := gitRevision{}
		if len(revision) == 40 {
			rev.commit = plumbing.NewHash(revision)
		}
		return rev, nil
	}
	return gitRevision{}, fmt.Errorf("revision %q is not a branch, tag or commit", revision)
}

func isCommitHash(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}

func gitCacheKey(src *GitSource, commit plumbing.Hash) string {
	return fmt.Sprintf("git:%s:%s:%s", src.Repository, commit, src.Dir)
}

// gitAuthFromSecret maps a pull secret to a transport credential. A nil
// secret means anonymous access.
func gitAuthFromSecret(secret *corev1.Secret) (transport.AuthMethod, error) {
	if secret == nil {
		return nil, nil
	}
	switch secret.Type {
	case corev1.SecretTypeSSHAuth:
		return sshKeyAuth(secret.Data)
	case corev1.SecretTypeBasicAuth:
		return &http.BasicAuth{
			Username: string(secret.Data[corev1.BasicAuthUsernameKey]),
			Password: string(secret.Data[corev1.BasicAuthPasswordKey]),
		}, nil
	}

	if token, ok := secret.Data["token"]; ok {
		// GitHub and GitLab accept any user name alongside a token
		return &http.BasicAuth{Username: "x-access-token", Password: string(token)}, nil
	}
	if username, ok := secret.Data["username"]; ok {
		return &http.BasicAuth{Username: string(username), Password: string(secret.Data["password"])}, nil
	}
	return nil, fmt.Errorf("secret of type %s has no Git credentials", secret.Type)
}

func sshKeyAuth(data map[string][]byte) (transport.AuthMethod, error) {
	key := data[corev1.SSHAuthPrivateKey]
	if len(key) == 0 {
		return nil, errors.New("SSH secret has no private key")
	}
	keys, err := ssh.NewPublicKeys("git", key, string(data["passphrase"]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return keys, nil
}
