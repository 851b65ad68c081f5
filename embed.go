package blogdesk

import "embed"

// EmbeddedAssets contains static assets shipped with the server, currently
// the default author avatar.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
