// Package diff parses unified diffs and reads them from git.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
)

// File represents a single file in a diff with its parsed fragments.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s → %s", f.OldName, f.NewName)
	}
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// Language detects the language of the file's new side.
func (f *File) Language() (model.Language, bool) {
	if f.NewName == "" {
		return "", false
	}
	return rules.DetectLanguage(f.NewName)
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
	Raw   string
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Parse reads a unified diff string and returns a DiffSet.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
			Fragments: f.TextFragments,
		}
		for _, frag := range f.TextFragments {
			df.AddedLines += int(frag.LinesAdded)
			df.DeletedLines += int(frag.LinesDeleted)
		}
		ds.Files = append(ds.Files, df)
	}
	return ds, nil
}

// GitDiff runs git diff in repoDir with the given arguments and returns the
// raw output.
func GitDiff(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmdArgs := append([]string{"diff", "--no-color", "--no-ext-diff"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = repoDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return "", fmt.Errorf("git diff: %s", strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}

// GitDiffRange returns the diff for a commit range like "main...HEAD".
func GitDiffRange(ctx context.Context, repoDir, commitRange string, contextLines int) (string, error) {
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines), commitRange)
}

// GitDiffWorktree returns uncommitted changes against HEAD.
func GitDiffWorktree(ctx context.Context, repoDir string, contextLines int) (string, error) {
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines), "HEAD")
}
