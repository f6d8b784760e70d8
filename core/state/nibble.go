package state

// KeyToNibbles converts a byte key into its nibble path, high nibble first,
// for traversal: maximum depth is 2x the key length in bytes.
func KeyToNibbles(key []byte) []byte {
	nibbles := make([]byte, len(key)*2)
	for i, b := range key {
		nibbles[i*2] = b >> 4
		nibbles[i*2+1] = b & 0x0f
	}
	return nibbles
}

// NibblesToKey packs a nibble path back into bytes. Only valid for even-length
// nibble slices, which is always true for a full key path (a partial path
// held in an Extension/Leaf node is never converted back on its own).
func NibblesToKey(nibbles []byte) []byte {
	key := make([]byte, len(nibbles)/2)
	for i := range key {
		key[i] = nibbles[i*2]<<4 | nibbles[i*2+1]
	}
	return key
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
