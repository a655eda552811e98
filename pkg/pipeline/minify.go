package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

// AssetKind identifies the text assets we know how to minify
type AssetKind int

const (
	OtherAsset AssetKind = iota
	ScriptAsset
	StyleAsset
	MarkupAsset
)

// KindOf derives the asset kind from the file extension
func KindOf(path string) AssetKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs":
		return ScriptAsset
	case ".css":
		return StyleAsset
	case ".html", ".htm":
		return MarkupAsset
	default:
		return OtherAsset
	}
}

var markupMinifier = newMarkupMinifier()

func newMarkupMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	// inline <style> and <script> blocks
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

// Minify shrinks content. For scripts and styles, a source map is generated if withMap is set;
// name is used as the map's source file and to link the map from the minified code.
func Minify(content []byte, kind AssetKind, name string, withMap bool) ([]byte, []byte, error) {
	switch kind {
	case ScriptAsset, StyleAsset:
		options := api.TransformOptions{
			Loader:            api.LoaderJS,
			Sourcefile:        name,
			MinifyWhitespace:  true,
			MinifyIdentifiers: true,
			MinifySyntax:      true,
		}
		if kind == StyleAsset {
			options.Loader = api.LoaderCSS
		}
		if withMap {
			options.Sourcemap = api.SourceMapExternal
		}

		result := api.Transform(string(content), options)
		if len(result.Errors) > 0 {
			msg := result.Errors[0]
			if msg.Location != nil {
				return nil, nil, eris.Errorf("%s:%d:%d: %s (%d errors)", name, msg.Location.Line, msg.Location.Column,
					msg.Text, len(result.Errors))
			}
			return nil, nil, eris.Errorf("%s: %s (%d errors)", name, msg.Text, len(result.Errors))
		}

		code := result.Code
		if withMap && len(result.Map) > 0 {
			mapName := filepath.Base(name) + ".map"
			if kind == StyleAsset {
				code = append(code, []byte(fmt.Sprintf("/*# sourceMappingURL=%s */\n", mapName))...)
			} else {
				code = append(code, []byte(fmt.Sprintf("//# sourceMappingURL=%s\n", mapName))...)
			}
			return code, result.Map, nil
		}

		return code, nil, nil
	case MarkupAsset:
		code, err := markupMinifier.Bytes("text/html", content)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "failed to minify %s", name)
		}
		return code, nil, nil
	default:
		return content, nil, nil
	}
}
