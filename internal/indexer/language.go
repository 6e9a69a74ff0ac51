package indexer

import (
	"path/filepath"
	"strings"
)

// languageMap maps exact filenames and extensions to language tags used
// for the metadata preface and search filtering.
var languageMap = map[string]string{
	// Exact filenames
	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
	"Rakefile":   "ruby",
	"Gemfile":    "ruby",

	// Code
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".rs":    "rust",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".r":     "r",
	".lua":   "lua",
	".pl":    "perl",

	// Markup and data
	".md":   "markdown",
	".rst":  "restructuredtext",
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".xml":  "xml",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".ini":  "ini",
	".csv":  "csv",
	".txt":  "text",

	// Documents
	".pdf":  "pdf",
	".docx": "docx",
}

// DetectLanguage maps a path to a language tag, checking the exact
// filename first (Dockerfile, Makefile) and the extension second.
// Unknown files return "text".
func DetectLanguage(path string) string {
	base := filepath.Base(path)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageMap[ext]; ok {
		return lang
	}
	return "text"
}
