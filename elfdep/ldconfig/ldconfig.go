// Package ldconfig reads /etc/ld.so.conf (and whatever it transitively
// includes) the way the dynamic linker does, contributing the
// low-precedence tail of a search path: after the subject's own
// RUNPATH/RPATH and LD_LIBRARY_PATH, before the default trusted
// directories.
package ldconfig

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the file consulted when no override is given.
const DefaultConfigPath = "/etc/ld.so.conf"

// DefaultTrustedDirs are consulted last, after every configured
// directory, regardless of ld.so.conf contents. It contains both the
// class-independent trusted directories and every architecture-dependent
// variant; callers that know the subject's ELF class should use
// TrustedDirsForClass instead to pick only the variant that applies.
var DefaultTrustedDirs = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64", "/lib32", "/usr/lib32"}

// trustedDirs64 and trustedDirs32 are the architecture-dependent trusted
// directories selected by the subject's ELF class, mirroring the dynamic
// linker's own lib/lib64 (or lib/lib32) split.
var (
	trustedDirs64 = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64"}
	trustedDirs32 = []string{"/lib", "/usr/lib", "/lib32", "/usr/lib32"}
)

// TrustedDirsForClass returns the default trusted directories that apply
// to a subject of the given ELF class: the 64-bit variant when is64 is
// true, the 32-bit variant otherwise.
func TrustedDirsForClass(is64 bool) []string {
	if is64 {
		return trustedDirs64
	}
	return trustedDirs32
}

// Dirs returns the ordered, de-duplicated list of directories named by
// path and any files it "include"s, following glob patterns exactly as
// ld.so(8) does. A missing config file is not an error: it simply
// contributes no directories.
func Dirs(path string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	if err := readConfig(path, seen, &out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// maxIncludeDepth guards against a config file including itself.
const maxIncludeDepth = 16

func readConfig(path string, seen map[string]bool, out *[]string, depth int) error {
	if depth > maxIncludeDepth {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	base := filepath.Dir(path)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "include "); ok {
			pattern := strings.TrimSpace(rest)
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(base, pattern)
			}
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return err
			}
			for _, m := range matches {
				if err := readConfig(m, seen, out, depth+1); err != nil {
					return err
				}
			}
			continue
		}
		if !seen[line] {
			seen[line] = true
			*out = append(*out, line)
		}
	}
	return scanner.Err()
}
