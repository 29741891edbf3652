// Package config resolves the per-remote configuration for a run: the GitLab
// host and project, the final branch, and the API token. Configuration is an
// explicit value passed into constructors; there is no package-level state.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"mrstack.dev/mrstack/internal/git"
)

// FileName is the optional repo-level config file, keyed by remote name.
const FileName = ".mrstack.toml"

// TokenEnvVar overrides every other token source when set.
const TokenEnvVar = "GITLAB_PRIVATE_TOKEN"

// gitConfigSection is the git config section consulted for the token,
// e.g. `git config mrstack.private-token <token>`.
const gitConfigSection = "mrstack"

// RemoteConfig is one remote's section in .mrstack.toml. All fields are
// optional; unset fields are derived from the repository.
type RemoteConfig struct {
	// Host overrides the GitLab host URL derived from the remote URL.
	Host string `toml:"host"`
	// TargetBranch is the final branch the stack is headed for. Defaults to
	// the upstream branch of the local branch being reviewed.
	TargetBranch string `toml:"target_branch"`
	// RemoveSourceBranch controls whether merged review branches are deleted
	// by the backend. Defaults to true.
	RemoveSourceBranch *bool `toml:"remove_source_branch"`
	// OAuth selects bearer authentication for tokens from the OAuth flow.
	OAuth bool `toml:"oauth"`
}

// Config is the fully resolved configuration for one run.
type Config struct {
	RemoteName         string
	HostURL            string
	ProjectPath        string // URL-encoded, e.g. "group%2Frepo"
	TargetBranch       string
	RemoveSourceBranch bool
	Token              string
	OAuth              bool
}

// Load resolves the configuration for the given remote and local branch.
func Load(repo *git.Repo, remoteName, localBranch string) (*Config, error) {
	fileCfg, err := readFile(filepath.Join(repo.Root(), FileName), remoteName)
	if err != nil {
		return nil, err
	}

	remoteURL, err := repo.RemoteURL(remoteName)
	if err != nil {
		return nil, err
	}
	hostURL, projectPath, err := ParseRemoteURL(remoteURL)
	if err != nil {
		return nil, err
	}
	if fileCfg.Host != "" {
		hostURL = fileCfg.Host
	}

	targetBranch := fileCfg.TargetBranch
	if targetBranch == "" {
		targetBranch = repo.UpstreamBranch(localBranch)
	}
	if targetBranch == "" {
		return nil, fmt.Errorf(
			"could not determine the target branch to push changes to.\n\n"+
				"Either set the upstream of %s:\n\n"+
				"    git branch --set-upstream-to=%s/<branch>\n\n"+
				"or set target_branch for the remote in %s:\n\n"+
				"    [%s]\n"+
				"    target_branch = \"<branch>\"",
			localBranch, remoteName, FileName, remoteName)
	}

	token, err := resolveToken(repo, hostURL)
	if err != nil {
		return nil, err
	}

	removeSourceBranch := true
	if fileCfg.RemoveSourceBranch != nil {
		removeSourceBranch = *fileCfg.RemoveSourceBranch
	}

	return &Config{
		RemoteName:         remoteName,
		HostURL:            hostURL,
		ProjectPath:        projectPath,
		TargetBranch:       targetBranch,
		RemoveSourceBranch: removeSourceBranch,
		Token:              token,
		OAuth:              fileCfg.OAuth,
	}, nil
}

// readFile reads the remote's section from .mrstack.toml. A missing file or
// missing section yields a zero RemoteConfig.
func readFile(path, remoteName string) (RemoteConfig, error) {
	sections := map[string]RemoteConfig{}
	if _, err := os.Stat(path); err != nil {
		return RemoteConfig{}, nil
	}
	if _, err := toml.DecodeFile(path, &sections); err != nil {
		return RemoteConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sections[remoteName], nil
}

// resolveToken finds the API token: the environment variable first, then
// git config.
func resolveToken(repo *git.Repo, hostURL string) (string, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, nil
	}
	if token := repo.ConfigValue(gitConfigSection, "private-token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf(
		"unable to find an API token for %s.\n\n"+
			"Set the %s environment variable, or run:\n\n"+
			"    git config %s.private-token <token>",
		hostURL, TokenEnvVar, gitConfigSection)
}

var scpLikeRegex = regexp.MustCompile(`^git@([^:]+):(.*)$`)

// ParseRemoteURL parses a git remote URL into the GitLab host base URL and
// the URL-encoded project path. Supports scp-like ("git@host:group/repo")
// and http(s)/ssh URL forms.
func ParseRemoteURL(remoteURL string) (hostURL, projectPath string, err error) {
	var host, path string
	if m := scpLikeRegex.FindStringSubmatch(remoteURL); m != nil {
		host = "https://" + m[1]
		path = m[2]
	} else if strings.HasPrefix(remoteURL, "http://") ||
		strings.HasPrefix(remoteURL, "https://") ||
		strings.HasPrefix(remoteURL, "ssh://") {
		parsed, parseErr := url.Parse(remoteURL)
		if parseErr != nil {
			return "", "", fmt.Errorf("unparseable remote URL %q: %w", remoteURL, parseErr)
		}
		scheme := parsed.Scheme
		if scheme == "ssh" {
			scheme = "https"
		}
		host = fmt.Sprintf("%s://%s", scheme, parsed.Hostname())
		path = strings.TrimPrefix(parsed.Path, "/")
	} else {
		return "", "", fmt.Errorf("unrecognized remote URL %q", remoteURL)
	}

	path = strings.TrimSuffix(path, ".git")
	return host, url.QueryEscape(path), nil
}
