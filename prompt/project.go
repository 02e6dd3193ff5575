package prompt

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/martinemde/repoagent/repostore"
)

const maxProjectDocBytes = 32 * 1024

// EnvironmentContext renders the environment block for the project
// context.
func EnvironmentContext(repoID, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Repository: %s\n", repoID)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// instructionFiles returns the instruction file names loaded for provider.
// AGENTS.md is always loaded.
func instructionFiles(provider string) []string {
	files := []string{"AGENTS.md"}
	switch provider {
	case "anthropic":
		files = append(files, "CLAUDE.md")
	case "gemini":
		files = append(files, "GEMINI.md")
	case "openai":
		files = append(files, ".codex/instructions.md")
	}
	return files
}

// ProjectDigest builds the project context from the repository: a short
// top-level layout followed by any recognized instruction files, root
// first, capped at 32KB of instructions.
func ProjectDigest(ctx context.Context, store repostore.Store, repoID, provider string) (string, error) {
	refs, err := store.ListPaths(ctx, repoID, "")
	if err != nil {
		return "", fmt.Errorf("project digest: %w", err)
	}
	if len(refs) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(layout(refs))

	wanted := instructionFiles(provider)
	var docs []repostore.FileRef
	for _, r := range refs {
		for _, name := range wanted {
			if r.Path == name || strings.HasSuffix(r.Path, "/"+name) {
				docs = append(docs, r)
			}
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return strings.Count(docs[i].Path, "/") < strings.Count(docs[j].Path, "/")
	})

	total := 0
	for _, d := range docs {
		f, err := store.ReadContent(ctx, d.ID)
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			sb.WriteString("\n\n[Project instructions truncated at 32KB]")
			break
		}
		text := f.Content
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		fmt.Fprintf(&sb, "\n\n---\n\n# %s\n\n%s", d.Path, strings.TrimSpace(text))
		total += len(text)
	}
	return sb.String(), nil
}

func layout(refs []repostore.FileRef) string {
	counts := make(map[string]int)
	var rootFiles []string
	for _, r := range refs {
		if i := strings.IndexByte(r.Path, '/'); i > 0 {
			counts[r.Path[:i]]++
			continue
		}
		rootFiles = append(rootFiles, r.Path)
	}
	dirs := make([]string, 0, len(counts))
	for d := range counts {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository layout (%d files):\n", len(refs))
	for _, d := range dirs {
		fmt.Fprintf(&sb, "- %s/ (%d files)\n", d, counts[d])
	}
	for _, f := range rootFiles {
		fmt.Fprintf(&sb, "- %s\n", path.Base(f))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
