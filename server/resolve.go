package server

import (
	"path"
	"path/filepath"
	"strings"
)

// script is the file a request executes and the identity it reports.
type script struct {
	// Filename is the path handed to the interpreter.
	Filename string
	// Name is the SCRIPT_NAME / PHP_SELF value.
	Name string
	// FromURL reports whether the URL path picked the file.
	FromURL bool
}

// resolveScript maps a URL path to a script. A path whose extension is a
// script extension executes that file under the document root; anything
// else runs the default script. The filesystem is not consulted.
func resolveScript(cfg *Config, urlPath string) script {
	clean := path.Clean("/" + urlPath)

	ext := strings.ToLower(path.Ext(clean))
	for _, want := range cfg.ScriptExtensions {
		if ext != "" && ext == strings.ToLower(want) {
			return script{
				Filename: filepath.Join(cfg.DocumentRoot, filepath.FromSlash(clean)),
				Name:     clean,
				FromURL:  true,
			}
		}
	}

	def := strings.TrimPrefix(filepath.ToSlash(cfg.DefaultScript), "/")
	return script{
		Filename: filepath.Join(cfg.DocumentRoot, filepath.FromSlash(def)),
		Name:     "/" + def,
	}
}
