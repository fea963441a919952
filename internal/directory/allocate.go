package directory

import (
	"path"
	"strconv"
	"strings"

	"github.com/starford/surveybox/internal/models"
)

// Allocate returns base unless a file in entries already has that name, in
// which case it returns the first free "stem_N.ext" for N = 1, 2, ...
//
// The check runs against one snapshot, so two concurrent submissions can
// still pick the same name; the backend's conflict response catches that.
func Allocate(base string, entries []models.DirectoryEntry) string {
	taken := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsFile() {
			taken[e.Name] = struct{}{}
		}
	}
	if _, ok := taken[base]; !ok {
		return base
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
