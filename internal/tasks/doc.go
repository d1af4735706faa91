// Package tasks mirrors a remote playlist into a local directory of tagged MP3 files with real-time progress reporting.
//
// # Pipeline
//
// [SyncEngine.Run] performs a full synchronization:
//
//  1. Creates the target directory and fetches every playlist page
//  2. Applies the optional limit, then skips entries whose normalized name matches a local file
//  3. For each remaining song, in playlist order:
//     - Formats the entry into a [models.Song] and sanitizes its file name
//     - Stages the album art as cover_photo.jpg (best effort)
//     - Emits song_title and resolves a source link ([Resolver])
//     - Downloads the audio ([Downloader]), retrying once with a fresh downloader after a rate limit
//     - Writes ID3 tags, cover art and lyrics ([ID3Tagger])
//  4. Optionally normalizes loudness ([Normalizer]) and emits download_complete
//
// A failing song never aborts the run: errors and panics are counted as failures and the next song starts.
//
// # Progress Reporting
//
// Events go to an [EventSink] in order. After every song the engine emits progress and eta_update, then polls the
// [StopToken]; an EXIT command or a cancelled context ends the run after the current song. Stopped runs skip
// normalization and download_complete.
//
// # Acquisition
//
// [Downloader.Acquire] returns a tagged [AcquireResult] instead of failing: Succeeded, RateLimited (the provider
// printed a throttling phrase) or Exhausted (four fetches without a file).
//
// # History
//
// The optional [HistoryRecorder] interface persists runs and per-song outcomes.
//
// Recorder errors are logged and ignored to avoid disrupting a sync.
//
// # Implementation
//
// [SyncEngine] depends on:
//   - [services.PlaylistProvider] : playlist pages (Spotify)
//   - [LinkResolver] : video search with duration matching
//   - [AcquirerFactory] : yt-dlp downloads
//   - [Tagger], [CoverFetcher], [LoudnessNormalizer] : post-processing
//   - [HistoryRecorder] : optional persistence layer (repositories.HistoryAdapter)
package tasks
