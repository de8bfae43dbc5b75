package chunker

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".rst":   "rst",
	".txt":   "text",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".xml":   "xml",
	".html":  "html",
	".css":   "css",
	".proto": "protobuf",
	".tf":    "terraform",
}

var filenames = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "make",
	"go.mod":      "go-mod",
	"Jenkinsfile": "groovy",
}

// Language guesses the language of a file from its name. Unknown files
// return "".
func Language(path string) string {
	base := filepath.Base(path)
	if lang, ok := filenames[base]; ok {
		return lang
	}
	return languages[strings.ToLower(filepath.Ext(base))]
}
