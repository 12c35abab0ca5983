package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/internal/models"
	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

// ErrEmptyRepository is returned when the remote has no commits
var ErrEmptyRepository = errors.New("repository is empty")

const lockRetryDelay = 500 * time.Millisecond

// CloneService keeps bare local copies of remote repositories
type CloneService struct {
	basePath string
	cfg      config.CloneConfig
	token    string
}

// NewCloneService creates a clone service writing under cfg.Path. token is
// used as HTTPS basic auth password when set.
func NewCloneService(cfg config.CloneConfig, token string) *CloneService {
	return &CloneService{
		basePath: cfg.Path,
		cfg:      cfg,
		token:    token,
	}
}

// LocalClone is a checked out repository; Cleanup removes it from disk and releases its lock
type LocalClone struct {
	Repository *git.Repository
	Path       string
	lock       *flock.Flock
}

// Cleanup deletes the local copy and releases its lock
func (c *LocalClone) Cleanup() {
	if err := os.RemoveAll(c.Path); err != nil {
		logger.WithError(err).WithField("path", c.Path).Warn("Failed to remove clone")
	}
	// The lock file is never unlinked so every waiter locks the same inode
	if err := c.lock.Unlock(); err != nil {
		logger.WithError(err).WithField("path", c.Path).Warn("Failed to release clone lock")
	}
}

// clonePath derives a stable directory from the repository name
func (s *CloneService) clonePath(repo *models.Repository) string {
	name := repo.FullName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(repo.CloneURL), ".git")
	}
	return filepath.Join(s.basePath, filepath.FromSlash(name))
}

func (s *CloneService) auth(cloneURL string) (transport.AuthMethod, error) {
	if strings.HasPrefix(cloneURL, "git@") || strings.HasPrefix(cloneURL, "ssh://") {
		if s.cfg.SSHPrivateKey == "" {
			return nil, nil
		}
		keys, err := ssh.NewPublicKeysFromFile(s.cfg.SSHUser, s.cfg.SSHPrivateKey, s.cfg.SSHPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return keys, nil
	}
	if s.token != "" && strings.HasPrefix(cloneURL, "https://") {
		return &githttp.BasicAuth{Username: "x-access-token", Password: s.token}, nil
	}
	return nil, nil
}

// Clone makes the repository available locally. A leftover copy from an
// earlier run is fetched with a forced refspec, otherwise a fresh bare clone
// is made. The directory is locked until Cleanup is called.
func (s *CloneService) Clone(ctx context.Context, repo *models.Repository) (*LocalClone, error) {
	path := s.clonePath(repo)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock %s", path)
	}

	auth, err := s.auth(repo.CloneURL)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	fields := logrus.Fields{"repository": repo.CloneURL, "path": path}
	gitRepo, err := s.update(ctx, path, auth)
	if err != nil {
		logger.WithFields(fields).WithError(err).Debug("Existing copy unusable, cloning again")
		os.RemoveAll(path)
		gitRepo, err = git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
			URL:  repo.CloneURL,
			Auth: auth,
			Tags: git.NoTags,
		})
	}
	if err != nil {
		os.RemoveAll(path)
		lock.Unlock()
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, ErrEmptyRepository
		}
		return nil, fmt.Errorf("failed to clone %s: %w", repo.CloneURL, err)
	}

	logger.WithFields(fields).Debug("Repository ready")
	return &LocalClone{Repository: gitRepo, Path: path, lock: lock}, nil
}

// update fetches into an existing copy, overwriting local branch heads
func (s *CloneService) update(ctx context.Context, path string, auth transport.AuthMethod) (*git.Repository, error) {
	gitRepo, err := git.PlainOpen(path)
	if err != nil {
		return nil, err
	}
	err = gitRepo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/heads/*"},
		Auth:       auth,
		Force:      true,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, err
	}
	return gitRepo, nil
}
