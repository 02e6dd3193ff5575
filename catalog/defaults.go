package catalog

// Defaults returns the fixed operation catalog, all enabled.
func Defaults() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        OpListFiles,
			Category:    CategoryDiscovery,
			Description: "List repository file paths, including staged additions. Optionally restrict to a path prefix.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Description: "Directory or path prefix to list."},
			},
		},
		{
			Name:        OpSearch,
			Category:    CategoryDiscovery,
			Description: "Case-insensitive text search over file contents. Returns path:line: text matches.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "query", Type: "string", Required: true, Description: "Text to search for."},
				{Name: "path", Type: "string", Description: "Directory or path prefix to search within."},
			},
		},
		{
			Name:        OpWildcardSearch,
			Category:    CategoryDiscovery,
			Description: "Match file paths against a glob pattern. * and ? match within a segment, ** matches any depth.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "pattern", Type: "string", Required: true, Description: "Glob pattern, for example src/**/*.go."},
			},
		},
		{
			Name:        OpReadFile,
			Category:    CategoryRead,
			Description: "Read a file with line numbers. Staged edits are included.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "File path or file id."},
				{Name: "start_line", Type: "integer", Description: "First line to return (1-based)."},
				{Name: "end_line", Type: "integer", Description: "Last line to return (inclusive)."},
			},
		},
		{
			Name:     OpEditLines,
			Category: CategoryWrite,
			Description: "Replace lines start_line..end_line (1-based, inclusive) with new_content. " +
				"start_line past the end of the file appends; start_line greater than end_line inserts before start_line without deleting.",
			Enabled: true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "File path or file id."},
				{Name: "start_line", Type: "integer", Required: true, Description: "First line to replace (1-based)."},
				{Name: "end_line", Type: "integer", Required: true, Description: "Last line to replace (inclusive)."},
				{Name: "new_content", Type: "string", Required: true, Description: "Replacement text. Empty deletes the range."},
			},
		},
		{
			Name:        OpCreateFile,
			Category:    CategoryWrite,
			Description: "Create a new file. Fails if the path already exists.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "Path of the new file."},
				{Name: "content", Type: "string", Required: true, Description: "Full file content."},
			},
		},
		{
			Name:        OpDeleteFile,
			Category:    CategoryWrite,
			Description: "Delete a file. Deleting a file that was only created in this session unstages it.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "File path or file id."},
			},
		},
		{
			Name:        OpMoveFile,
			Category:    CategoryWrite,
			Description: "Move or rename a file.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "Current file path or file id."},
				{Name: "new_path", Type: "string", Required: true, Description: "Destination path."},
			},
		},
		{
			Name:        OpGetStagedChanges,
			Category:    CategoryStaging,
			Description: "List all staged, uncommitted changes.",
			Enabled:     true,
		},
		{
			Name:        OpUnstageFile,
			Category:    CategoryStaging,
			Description: "Drop the staged change for one path.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "Path of the staged change."},
			},
		},
		{
			Name:        OpDiscardAllStaged,
			Category:    CategoryStaging,
			Description: "Drop every staged change.",
			Enabled:     true,
		},
	}
}

// ProjectOperations returns the read-only project exploration operations.
func ProjectOperations() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        OpProjectInventory,
			Category:    CategoryProject,
			Description: "Summarize the project: top-level directories with file counts and file types.",
			Enabled:     true,
		},
		{
			Name:        OpProjectCategory,
			Category:    CategoryProject,
			Description: "List the files of one top-level directory of the project.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "category", Type: "string", Required: true, Description: "Top-level directory name."},
			},
		},
		{
			Name:        OpProjectElements,
			Category:    CategoryProject,
			Description: "List the top-level keys of a JSON or YAML file.",
			Enabled:     true,
			Params: []ParamSpec{
				{Name: "path", Type: "string", Required: true, Description: "Path of a JSON or YAML file."},
			},
		},
	}
}
