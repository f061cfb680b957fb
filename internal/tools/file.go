// Package tools provides file operation tools for the agent.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileTools provides read/write/edit/list within a workspace root.
// Every path the provider supplies is resolved against the root and
// rejected if it lands outside, whether by "..", by being absolute, or
// through a symlink.
type FileTools struct {
	root string
}

// NewFileTools creates file tools rooted at workspacePath. An empty
// path disables them; callers simply do not register the tools.
func NewFileTools(workspacePath string) (*FileTools, error) {
	if workspacePath == "" {
		return nil, fmt.Errorf("workspace path is empty")
	}
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	// Resolve the root itself so symlink comparison below compares
	// like with like.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &FileTools{root: abs}, nil
}

// Root returns the resolved workspace root.
func (ft *FileTools) Root() string {
	return ft.root
}

// resolvePath maps a provider-supplied path to an absolute path inside
// the workspace, or fails if it would escape. Absolute paths are
// rejected outright rather than reinterpreted, so the provider learns
// the tool's actual contract.
func (ft *FileTools) resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative to the workspace: %s", path)
	}

	abs := filepath.Clean(filepath.Join(ft.root, path))
	if !within(ft.root, abs) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	// The lexical check above cannot see symlinks. Resolve the deepest
	// existing ancestor and re-check, so a link inside the workspace
	// cannot point operations outside it.
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if !within(ft.root, resolved) {
		return "", fmt.Errorf("path escapes workspace via symlink: %s", path)
	}

	return abs, nil
}

// within reports whether target is root or inside it.
func within(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}

// Read returns the contents of a file, optionally windowed by line
// offset and limit.
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("reading file: %w", err)
	}

	content := string(data)
	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if offset > 0 {
			start = offset - 1
		}
		if start >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		content = strings.Join(lines[start:end], "\n")
		if start > 0 || end < len(lines) {
			content = fmt.Sprintf("[lines %d-%d of %d]\n%s", start+1, end, len(lines), content)
		}
	}
	return content, nil
}

// Write writes content to a file, creating parent directories as
// needed.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Edit replaces oldText with newText in a file. oldText must occur
// exactly once; anything else is ambiguous and the edit is refused.
func (ft *FileTools) Edit(ctx context.Context, path, oldText, newText string) error {
	abs, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("reading file: %w", err)
	}
	content := string(data)
	switch n := strings.Count(content, oldText); {
	case oldText == "":
		return fmt.Errorf("old_text is empty")
	case n == 0:
		return fmt.Errorf("old_text not found in %s", path)
	case n > 1:
		return fmt.Errorf("old_text occurs %d times in %s; provide more context", n, path)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// List returns the entries of a directory, directories suffixed with a
// separator, sorted by name.
func (ft *FileTools) List(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	abs, err := ft.resolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("listing directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RegisterFileTools adds the filesystem tool set backed by ft.
func (r *Registry) RegisterFileTools(ft *FileTools) {
	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace. Paths are relative to the workspace root.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path of the file to read",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-indexed first line to return (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to return (optional)",
				},
			},
			"required": []string{"path"},
		},
		Group: GroupFilesystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			offset := intArg(args, "offset")
			limit := intArg(args, "limit")
			return ft.Read(ctx, path, offset, limit)
		},
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating it (and parent directories) if needed, replacing it if present.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path of the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Complete new file content",
				},
			},
			"required": []string{"path", "content"},
		},
		Group: GroupFilesystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if err := ft.Write(ctx, path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace one exact occurrence of old_text with new_text in a workspace file. old_text must match exactly once.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path of the file to edit",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "Exact text to replace",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "Replacement text",
				},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		Group: GroupFilesystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			oldText, _ := args["old_text"].(string)
			newText, _ := args["new_text"].(string)
			if err := ft.Edit(ctx, path, oldText, newText); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory. Directories are suffixed with a path separator.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path of the directory (default: workspace root)",
				},
			},
		},
		Group: GroupFilesystem,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			names, err := ft.List(ctx, path)
			if err != nil {
				return "", err
			}
			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	})
}

func intArg(args map[string]any, name string) int {
	if f, ok := args[name].(float64); ok {
		return int(f)
	}
	return 0
}
