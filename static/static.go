// Package static embeds the browser client.
package static

import "embed"

//go:embed *.html *.js *.css
var Content embed.FS
