package bundler

import (
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// OutputHash fingerprints a set of output files. The result does not depend
// on the order of files; an empty set hashes to "".
func OutputHash(files map[string][]byte) string {
	if len(files) == 0 {
		return ""
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	d := xxhash.New()
	for _, p := range paths {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(strconv.Itoa(len(files[p])))
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(files[p])
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
