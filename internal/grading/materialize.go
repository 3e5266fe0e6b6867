package grading

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Project is a materialized, buildable project tree.
type Project struct {
	Root string
	Name string
}

// FindRootFolder returns the first entry under dir, in name order, whose name
// does not start with "." or "__". That entry must be a directory.
func FindRootFolder(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
			continue
		}
		if !entry.IsDir() {
			return "", fmt.Errorf("%w: %s is not a directory", ErrRootFolderNotFound, name)
		}
		return name, nil
	}
	return "", ErrRootFolderNotFound
}

// Materialize merges the trusted reference tree into the submission tree
// according to policy. Tests and manifests taken from the reference always
// replace whatever the submission shipped at the same paths.
func Materialize(ws *Workspace, policy MergePolicy) (Project, error) {
	name, err := FindRootFolder(ws.SubmissionDir())
	if err != nil {
		return Project{}, err
	}
	project := Project{Root: filepath.Join(ws.SubmissionDir(), name), Name: name}

	for _, shadow := range policy.Shadowing {
		if err := os.RemoveAll(filepath.Join(project.Root, shadow)); err != nil {
			return Project{}, fmt.Errorf("remove %s: %w", shadow, err)
		}
	}

	if policy.RequireManifest && policy.Manifest != "" {
		info, err := os.Stat(filepath.Join(project.Root, policy.Manifest))
		if err != nil || info.IsDir() {
			return Project{}, fmt.Errorf("%w: %s not found in submission root directory", ErrManifestMissing, policy.Manifest)
		}
	}

	for _, dir := range policy.CreateDirs {
		if err := os.MkdirAll(filepath.Join(project.Root, dir), 0o755); err != nil {
			return Project{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if policy.CopyReferenceTree {
		if err := replaceEntries(ws.ReferenceDir(), filepath.Join(project.Root, policy.TestsTarget)); err != nil {
			return Project{}, err
		}
		return project, nil
	}

	if policy.TestsSource == "" && (policy.Manifest == "" || policy.RequireManifest) {
		return project, nil
	}

	refName, err := FindRootFolder(ws.ReferenceDir())
	if err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrReferenceIncomplete, err)
	}
	refRoot := filepath.Join(ws.ReferenceDir(), refName)

	if policy.TestsSource != "" {
		source := filepath.Join(refRoot, policy.TestsSource)
		if info, err := os.Stat(source); err != nil || !info.IsDir() {
			return Project{}, fmt.Errorf("%w: %s directory missing", ErrReferenceIncomplete, policy.TestsSource)
		}
		target := policy.TestsTarget
		if target == "" {
			target = policy.TestsSource
		}
		if err := replacePath(source, filepath.Join(project.Root, target)); err != nil {
			return Project{}, err
		}
	}

	if policy.Manifest != "" && !policy.RequireManifest {
		source := filepath.Join(refRoot, policy.Manifest)
		if info, err := os.Stat(source); err != nil || info.IsDir() {
			return Project{}, fmt.Errorf("%w: %s missing", ErrReferenceIncomplete, policy.Manifest)
		}
		if err := replacePath(source, filepath.Join(project.Root, policy.Manifest)); err != nil {
			return Project{}, err
		}
	}

	return project, nil
}

// replaceEntries copies every entry of src into dst, replacing each
// same-named entry in dst.
func replaceEntries(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	for _, entry := range entries {
		if err := replacePath(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// replacePath removes dst and copies src, a file or a directory tree, in its place.
func replacePath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clear %s: %w", dst, err)
	}

	if info.IsDir() {
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	return errors.Join(copyErr, closeErr)
}

// FindArtifact returns the first file in rule.Dir under root whose name ends
// with rule.Suffix, as a path relative to root.
func FindArtifact(root string, rule ArtifactRule) (string, error) {
	entries, err := os.ReadDir(filepath.Join(root, rule.Dir))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), rule.Suffix) {
			return filepath.ToSlash(filepath.Join(rule.Dir, entry.Name())), nil
		}
	}
	return "", fmt.Errorf("%w: no %s file in %s", ErrArtifactNotFound, rule.Suffix, rule.Dir)
}
