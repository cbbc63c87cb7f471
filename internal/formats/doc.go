// Package formats defines the authoritative table of output image formats
// and their static traits (extension, MIME type, alpha, animation,
// losslessness, encoder backing), plus magic-byte container detection and
// the multi-frame heuristics used to warn about animated inputs.
//
// Runtime availability of each format is a separate concern handled by the
// capability resolver; this package never touches codecs.
package formats
