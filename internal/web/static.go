package web

import (
	"embed"
)

// staticFiles holds the camera page: preview image, capture button and toast
// area, plus its script and stylesheet.
//
//go:embed static/*
var staticFiles embed.FS
