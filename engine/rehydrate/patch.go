package rehydrate

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
var searchReplaceRe = regexp.MustCompile(`(?s)<<<<<<< SEARCH\n(.*?)\n=======\n(.*?)\n>>>>>>> REPLACE`)

type hunkHeader struct {
	oldStart, oldCount int
	newStart, newCount int
}

// ApplyPatch applies patchContent (unified diff or search/replace) to the
// file at path within vfs, serializing concurrent edits to the same path
// through locker (spec.md §4.6 "Patch application").
func ApplyPatch(vfs *VFS, locker *PathLocker, filePath, patchContent string, modifiedAt int64) error {
	locker.Lock(filePath)
	defer locker.Unlock(filePath)

	content, _ := vfs.ReadFile(filePath) // missing file reads as empty; a patch may create it

	var (
		newContent string
		err        error
	)
	if strings.Contains(patchContent, "<<<<<<< SEARCH") {
		newContent, err = applySearchReplace(content, patchContent)
	} else {
		newContent, err = applyUnifiedDiff(content, patchContent)
	}
	if err != nil {
		return err
	}
	return vfs.WriteFile(filePath, newContent, modifiedAt)
}

func applyUnifiedDiff(content, patch string) (string, error) {
	header, body, err := parseHunk(patch)
	if err != nil {
		return "", err
	}

	lines := splitLines(content)
	if header.oldStart+header.oldCount-1 > len(lines) {
		return "", ErrInvalidHunk
	}

	start := 0
	if header.oldStart > 0 {
		start = header.oldStart - 1
	}

	out := append([]string{}, lines[:start]...)
	cursor := start
	for _, ln := range body {
		if ln == "" {
			continue
		}
		switch ln[0] {
		case ' ':
			if cursor < len(lines) {
				out = append(out, lines[cursor])
			}
			cursor++
		case '-':
			cursor++
		case '+':
			out = append(out, ln[1:])
		}
	}
	out = append(out, lines[cursor:]...)
	return strings.Join(out, "\n"), nil
}

func parseHunk(patch string) (hunkHeader, []string, error) {
	lines := strings.Split(patch, "\n")
	if len(lines) == 0 {
		return hunkHeader{}, nil, ErrInvalidHunk
	}
	m := hunkHeaderRe.FindStringSubmatch(lines[0])
	if m == nil {
		return hunkHeader{}, nil, ErrInvalidHunk
	}
	return hunkHeader{
		oldStart: atoi(m[1]),
		oldCount: atoiOr(m[2], 1),
		newStart: atoi(m[3]),
		newCount: atoiOr(m[4], 1),
	}, lines[1:], nil
}

func applySearchReplace(content, patch string) (string, error) {
	m := searchReplaceRe.FindStringSubmatch(patch)
	if m == nil {
		return "", ErrInvalidHunk
	}
	search, replace := m[1], m[2]
	idx := strings.Index(content, search)
	if idx < 0 {
		return "", ErrNoSearchMatch
	}
	return content[:idx] + replace + content[idx+len(search):], nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}
