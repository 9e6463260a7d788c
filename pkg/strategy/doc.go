// Package strategy extracts recipes from video and social posts.
//
// A [Registry] picks the [Strategy] for a link by hostname. Every strategy
// runs the same procedure: read metadata, reject videos over the length
// limit, then try an ordered list of text candidates (captions, an audio
// transcript, the bare description) against the model until one yields a
// valid draft. Image posts only have their caption, optionally topped up
// from the page. Thumbnails and video files are saved on the side, and all
// downloads are removed when Process returns.
package strategy
