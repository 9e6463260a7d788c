// Package video fetches post metadata and media for recipe extraction.
//
// A [Source] reports a post's [Metadata] and downloads captions, audio and
// video into a caller-supplied directory. [YouTubeSource] talks to YouTube
// directly; [YTDLPSource] shells out to yt-dlp for every other host.
// Downloads belong in a [Workspace], whose Cleanup removes them on every
// exit path.
package video
