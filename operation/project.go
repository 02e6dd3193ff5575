package operation

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/martinemde/repoagent/repostore"
)

const rootCategory = "(root)"

func (e *Executor) projectInventory(ctx context.Context, _ Params, res *Result) error {
	refs, err := e.store.ListPaths(ctx, e.repoID, "")
	if err != nil {
		return err
	}
	type bucket struct {
		files int
		exts  map[string]int
	}
	buckets := make(map[string]*bucket)
	for _, r := range refs {
		cat := rootCategory
		if i := strings.IndexByte(r.Path, '/'); i > 0 {
			cat = r.Path[:i]
		}
		b, ok := buckets[cat]
		if !ok {
			b = &bucket{exts: make(map[string]int)}
			buckets[cat] = b
		}
		b.files++
		ext := path.Ext(r.Path)
		if ext == "" {
			ext = "(none)"
		}
		b.exts[ext]++
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project inventory: %d files in %d categories\n", len(refs), len(names))
	for _, name := range names {
		b := buckets[name]
		exts := make([]string, 0, len(b.exts))
		for ext := range b.exts {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		parts := make([]string, len(exts))
		for i, ext := range exts {
			parts[i] = fmt.Sprintf("%s %d", ext, b.exts[ext])
		}
		label := name
		if name != rootCategory {
			label += "/"
		}
		fmt.Fprintf(&sb, "- %s %d files (%s)\n", label, b.files, strings.Join(parts, ", "))
	}
	res.Output = strings.TrimSuffix(sb.String(), "\n")
	return nil
}

func (e *Executor) projectCategory(ctx context.Context, p Params, res *Result) error {
	category := repostore.CleanPath(p.Category)
	if category == "" || category == rootCategory {
		refs, err := e.store.ListPaths(ctx, e.repoID, "")
		if err != nil {
			return err
		}
		var files []string
		for _, r := range refs {
			if !strings.Contains(r.Path, "/") {
				files = append(files, r.Path)
			}
		}
		res.Output = strings.Join(files, "\n")
		return nil
	}
	refs, err := e.store.ListPaths(ctx, e.repoID, category)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: no files in category %q", repostore.ErrNotFound, category)
	}
	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.Path
	}
	res.Output = fmt.Sprintf("%s/ (%d files)\n%s", category, len(refs), strings.Join(paths, "\n"))
	return nil
}

func (e *Executor) projectElements(ctx context.Context, p Params, res *Result) error {
	t, content, err := e.load(ctx, p)
	if err != nil {
		return err
	}
	res.Path, res.SourceID = t.path, t.id
	keys, err := topLevelKeys(t.path, content)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		res.Output = fmt.Sprintf("%s is empty.", t.path)
		return nil
	}
	res.Output = fmt.Sprintf("%s top-level elements:\n- %s", t.path, strings.Join(keys, "\n- "))
	return nil
}
