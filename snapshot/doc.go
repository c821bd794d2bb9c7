// Package snapshot backs up selected workspace files and splits
// oversized files into fixed-size chunks.
//
// Selective snapshots walk include paths, apply glob exclusions, and
// land either in a tar+gzip archive or a plain file tree, with a
// manifest recording each file's size and content checksum. Chunked
// snapshots split files above a threshold into offset-addressed chunks
// that reassemble byte-identically in any read order.
package snapshot
