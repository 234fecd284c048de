package compose

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".tsx":   "tsx",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
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
	".sh":    "bash",
	".bash":  "bash",
	".zsh":   "zsh",
	".ps1":   "powershell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".tex":   "latex",
	".r":     "r",
	".lua":   "lua",
	".txt":   "text",
}

var languageByName = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
}

// DetectLanguage maps a file name to a fence language; unknown is "text".
func DetectLanguage(name string) string {
	base := strings.ToLower(filepath.Base(name))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	if lang, ok := languages[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return "text"
}
