// Package capability probes which output formats are actually usable in
// this process and derives the ordered fallback chain for any requested
// format. Probing happens once at startup: each format's codec encodes a
// throwaway 1x1 surface, jpeg and png are forced supported as the universal
// baseline, and avif decode support is raced against a short deadline so a
// wedged decoder cannot block startup.
package capability
