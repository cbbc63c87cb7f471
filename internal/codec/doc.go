// Package codec provides the encode and decode backends behind the
// optimization engine. Each output format is served by exactly one Codec:
// jpeg and png through the standard library, webp, avif and jxl through
// libvips. The Registry memoizes codecs and initializes backends lazily on
// first lookup, so a process that never touches a vips-backed format never
// starts libvips.
//
// The libvips lifecycle lives here too (InitVips/ShutdownVips). govips does
// not support stopping and restarting vips in one process, so shutdown is
// terminal and belongs at process exit only.
package codec
