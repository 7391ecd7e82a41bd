// Package record provides the entry model shared by every layer of the store:
// the key/value pair, the tombstone sentinel and the on-disk entry encoding.
package record

// LengthSize is the size in bytes used to store length prefixes
const LengthSize = 4

// PrefixSize is the total size of entry metadata (key length + value length)
const PrefixSize = 2 * LengthSize // 8 bytes

// tombstone is the reserved value that marks a logically deleted key.
// It is never returned to callers as a live value.
const tombstone = "\x00\xffstrata:tombstone\xff\x00"
