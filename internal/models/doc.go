// Package models defines the plsync data model.
//
// The package contains two categories of types:
//
// 1. Playlist data: the raw entries decoded from the metadata provider and the song descriptor derived from them
//   - [PlaylistEntry] : one playlist item as returned by the provider; may be missing its track
//   - [Song] : the immutable descriptor used by every pipeline stage
//   - [MalformedEntryError] : returned by [FormatSongData] when required nested fields are absent
//
// 2. Persistent entities: sync history stored in SQLite
//   - [Run] : one invocation of the pipeline with its aggregate counts
//   - [Download] : the outcome of one song within a run
//
// Persistent entities implement the Model interface providing IDs, timestamps and validation.
// The Repository[T] interface defines the CRUD operations implemented by the repositories package.
//
// Name helpers ([NormalizeName], [SanitizeFilename], [StripFeatured]) live here because both the
// pipeline and the CLI preview need the same rules.
package models
