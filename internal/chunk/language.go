package chunk

import (
	"path/filepath"
	"slices"
	"strings"
)

// languageByExt maps a lower-cased file extension to a language tag.
var languageByExt = map[string]string{
	".py":       "python",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".cjs":      "javascript",
	".ts":       "typescript",
	".tsx":      "typescript",
	".java":     "java",
	".c":        "c",
	".h":        "c",
	".cpp":      "cpp",
	".cc":       "cpp",
	".cxx":      "cpp",
	".hpp":      "cpp",
	".hh":       "cpp",
	".cs":       "c_sharp",
	".go":       "go",
	".rs":       "rust",
	".rb":       "ruby",
	".php":      "php",
	".swift":    "swift",
	".kt":       "kotlin",
	".kts":      "kotlin",
	".scala":    "scala",
	".r":        "r",
	".m":        "objective_c",
	".sh":       "bash",
	".bash":     "bash",
	".zsh":      "bash",
	".sql":      "sql",
	".html":     "html",
	".htm":      "html",
	".css":      "css",
	".json":     "json",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".xml":      "xml",
	".md":       "markdown",
	".markdown": "markdown",
	".rst":      "rst",
}

// DetectLanguage returns the language tag for a path based on its extension.
// The lookup is case-insensitive. ok is false for unknown extensions.
func DetectLanguage(path string) (lang string, ok bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	lang, ok = languageByExt[ext]
	return lang, ok
}

// Languages returns the distinct language tags the detector knows about,
// sorted.
func Languages() []string {
	seen := make(map[string]bool)
	var langs []string
	for _, l := range languageByExt {
		if !seen[l] {
			seen[l] = true
			langs = append(langs, l)
		}
	}
	slices.Sort(langs)
	return langs
}
