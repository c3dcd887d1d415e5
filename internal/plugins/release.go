package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/fsutil"
	"github.com/msageha/taskflow/internal/task"
)

var (
	ErrNoVersion = errors.New("manifest has no version")
	ErrTagExists = errors.New("tag already exists")

	jsonVersion = regexp.MustCompile(`("version"\s*:\s*")([^"]*)(")`)
)

// ReleaseInfo is the data available to the commit and tag templates.
type ReleaseInfo struct {
	Version  string
	Previous string
	Tag      string
}

type releaseOptions struct {
	file          string
	backup        bool
	commit        bool
	tag           bool
	push          bool
	remote        string
	commitMessage string
	tagName       string
	tagMessage    string
	authorName    string
	authorEmail   string
}

func releaseOptionsFrom(opts *config.Map) releaseOptions {
	return releaseOptions{
		file:          opts.GetString("file", "package.json"),
		backup:        opts.GetBool("backup", false),
		commit:        opts.GetBool("commit", true),
		tag:           opts.GetBool("tag", true),
		push:          opts.GetBool("push", false),
		remote:        opts.GetString("remote", "origin"),
		commitMessage: opts.GetString("commitMessage", "release {{.Version}}"),
		tagName:       opts.GetString("tagName", "v{{.Version}}"),
		tagMessage:    opts.GetString("tagMessage", "version {{.Version}}"),
		authorName:    opts.GetString("authorName", ""),
		authorEmail:   opts.GetString("authorEmail", ""),
	}
}

// NextVersion applies a bump ("patch", "minor", "major", "prerelease") or
// an explicit version to cur. An explicit version must be greater.
func NextVersion(cur *semver.Version, bump string) (*semver.Version, error) {
	var next semver.Version
	switch bump {
	case "", "patch":
		next = cur.IncPatch()
	case "minor":
		next = cur.IncMinor()
	case "major":
		next = cur.IncMajor()
	case "prerelease":
		return nextPrerelease(cur)
	default:
		v, err := semver.NewVersion(bump)
		if err != nil {
			return nil, fmt.Errorf("unknown release type %q: %w", bump, err)
		}
		if !v.GreaterThan(cur) {
			return nil, fmt.Errorf("version %s is not greater than %s", v, cur)
		}
		return v, nil
	}
	return &next, nil
}

// nextPrerelease turns 1.2.3 into 1.2.4-rc.0 and 1.2.4-rc.0 into 1.2.4-rc.1.
func nextPrerelease(cur *semver.Version) (*semver.Version, error) {
	pre := cur.Prerelease()
	if pre == "" {
		next, err := cur.IncPatch().SetPrerelease("rc.0")
		if err != nil {
			return nil, err
		}
		return &next, nil
	}
	parts := strings.Split(pre, ".")
	last := parts[len(parts)-1]
	if n, err := strconv.Atoi(last); err == nil {
		parts[len(parts)-1] = strconv.Itoa(n + 1)
	} else {
		parts = append(parts, "0")
	}
	next, err := cur.SetPrerelease(strings.Join(parts, "."))
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// readManifestVersion returns the version string of a package.json or
// YAML manifest.
func readManifestVersion(name string, raw []byte) (string, error) {
	if isYAML(name) {
		var doc struct {
			Version string `yaml:"version"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		if doc.Version == "" {
			return "", ErrNoVersion
		}
		return doc.Version, nil
	}
	m := jsonVersion.FindSubmatch(raw)
	if m == nil {
		return "", ErrNoVersion
	}
	return string(m[2]), nil
}

// writeManifestVersion replaces the version, keeping the rest of a JSON
// manifest byte for byte.
func writeManifestVersion(name string, raw []byte, version string) ([]byte, error) {
	if isYAML(name) {
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
			return nil, ErrNoVersion
		}
		top := doc.Content[0]
		for i := 0; i+1 < len(top.Content); i += 2 {
			if top.Content[i].Value == "version" {
				top.Content[i+1].Value = version
				top.Content[i+1].Tag = "!!str"
				return yaml.Marshal(&doc)
			}
		}
		return nil, ErrNoVersion
	}
	done := false
	out := jsonVersion.ReplaceAllFunc(raw, func(m []byte) []byte {
		if done {
			return m
		}
		done = true
		sub := jsonVersion.FindSubmatch(m)
		return append(append(append([]byte{}, sub[1]...), version...), sub[3]...)
	})
	if !done {
		return nil, ErrNoVersion
	}
	return out, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func validManifest(name string) func([]byte) error {
	if isYAML(name) {
		return fsutil.ValidYAML
	}
	return func(b []byte) error {
		if !json.Valid(b) {
			return fmt.Errorf("invalid JSON")
		}
		return nil
	}
}

func renderMessage(text string, info ReleaseInfo) (string, error) {
	t, err := template.New("msg").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, info); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func releaseExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		return task.Run(func() error {
			info, err := env.release(ctx, step.Arg, releaseOptionsFrom(step.Opts()))
			if err != nil {
				return fmt.Errorf("release: %w", err)
			}
			env.Logger.Info().Str("version", info.Version).Str("previous", info.Previous).
				Str("tag", info.Tag).Msg("released")
			return nil
		})
	})
}

func (e *Env) release(ctx context.Context, bump string, o releaseOptions) (ReleaseInfo, error) {
	var info ReleaseInfo
	manifest := filepath.Join(e.Root, o.file)
	stat, err := os.Stat(manifest)
	if err != nil {
		return info, err
	}
	raw, err := os.ReadFile(manifest)
	if err != nil {
		return info, err
	}
	curStr, err := readManifestVersion(o.file, raw)
	if err != nil {
		return info, fmt.Errorf("%s: %w", o.file, err)
	}
	cur, err := semver.NewVersion(curStr)
	if err != nil {
		return info, fmt.Errorf("%s: version %q: %w", o.file, curStr, err)
	}
	next, err := NextVersion(cur, bump)
	if err != nil {
		return info, err
	}
	info = ReleaseInfo{Version: next.String(), Previous: cur.String()}
	if info.Tag, err = renderMessage(o.tagName, info); err != nil {
		return info, fmt.Errorf("tagName: %w", err)
	}

	if o.tag {
		if err := e.checkTag(info.Tag); err != nil {
			return info, err
		}
	}

	updated, err := writeManifestVersion(o.file, raw, info.Version)
	if err != nil {
		return info, fmt.Errorf("%s: %w", o.file, err)
	}
	writeOpts := []fsutil.Option{
		fsutil.WithValidator(validManifest(o.file)),
		fsutil.WithPerm(stat.Mode().Perm()),
	}
	if o.backup {
		writeOpts = append(writeOpts, fsutil.WithBackup())
	}
	if err := fsutil.WriteFile(manifest, updated, writeOpts...); err != nil {
		return info, err
	}
	if !o.commit && !o.tag && !o.push {
		return info, nil
	}
	return info, e.gitRelease(ctx, manifest, info, o)
}

// checkTag fails when tag exists, before anything has been changed.
func (e *Env) checkTag(tag string) error {
	repo, err := git.PlainOpenWithOptions(e.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	if _, err := repo.Tag(tag); err == nil {
		return fmt.Errorf("%w: %s", ErrTagExists, tag)
	}
	return nil
}

func (e *Env) gitRelease(ctx context.Context, manifest string, info ReleaseInfo, o releaseOptions) error {
	repo, err := git.PlainOpenWithOptions(e.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	sig := signature(repo, o)

	if o.commit {
		rel, err := filepath.Rel(wt.Filesystem.Root(), manifest)
		if err != nil {
			return err
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
		msg, err := renderMessage(o.commitMessage, info)
		if err != nil {
			return fmt.Errorf("commitMessage: %w", err)
		}
		if _, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	if o.tag {
		head, err := repo.Head()
		if err != nil {
			return fmt.Errorf("resolve HEAD: %w", err)
		}
		msg, err := renderMessage(o.tagMessage, info)
		if err != nil {
			return fmt.Errorf("tagMessage: %w", err)
		}
		if _, err := repo.CreateTag(info.Tag, head.Hash(), &git.CreateTagOptions{Tagger: sig, Message: msg}); err != nil {
			return fmt.Errorf("create tag %s: %w", info.Tag, err)
		}
	}

	if o.push {
		return push(ctx, repo, info, o)
	}
	return nil
}

func push(ctx context.Context, repo *git.Repository, info ReleaseInfo, o releaseOptions) error {
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	specs := []gitconfig.RefSpec{
		gitconfig.RefSpec(head.Name().String() + ":" + head.Name().String()),
	}
	if o.tag {
		ref := plumbing.NewTagReferenceName(info.Tag).String()
		specs = append(specs, gitconfig.RefSpec(ref+":"+ref))
	}
	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: o.remote, RefSpecs: specs})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push to %s: %w", o.remote, err)
	}
	return nil
}

// signature prefers explicit options, then the user's git config.
func signature(repo *git.Repository, o releaseOptions) *object.Signature {
	name, email := o.authorName, o.authorEmail
	if name == "" || email == "" {
		if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
			if name == "" {
				name = cfg.User.Name
			}
			if email == "" {
				email = cfg.User.Email
			}
		}
	}
	if name == "" {
		name = "taskflow"
	}
	if email == "" {
		email = "taskflow@localhost"
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}
