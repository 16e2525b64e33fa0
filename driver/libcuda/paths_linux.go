//go:build linux

/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package libcuda

// This file builds the list of directories searched for libcuda.
//
// The parsing of ld.so.conf is a modified version of https://github.com/coreos/pkg/blob/main/dlopen/dlopen.go,
// licenced with Apache 2.0 license https://github.com/coreos/pkg/blob/main/LICENSE

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"
)

// LibraryPathEnv is the environment variable with a colon separated list of directories searched
// for libcuda before any of the system ones.
const LibraryPathEnv = "GOCUDA_LIBRARY_PATH"

// ldSoConf is the dynamic linker configuration file with further library directories.
var ldSoConf = "/etc/ld.so.conf"

// standardLibraryPaths are searched last: the usual locations of the NVIDIA driver libraries in
// Debian/Ubuntu, Fedora/RHEL, CUDA toolkit installations and WSL2.
var standardLibraryPaths = []string{
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/usr/lib64",
	"/usr/local/cuda/lib64",
	"/usr/lib/wsl/lib",
}

var (
	reLdConfInclude = regexp.MustCompile(`^\s*include\s*(.*)$`)
	reLdConfComment = regexp.MustCompile(`^\s*#`)
	reLdConfPath    = regexp.MustCompile(`^\s*(.+?)\s*$`)
)

// SearchPaths returns the directories where libcuda is searched, in order:
// $GOCUDA_LIBRARY_PATH, $LD_LIBRARY_PATH (absolute entries only), the ones listed in /etc/ld.so.conf
// (following includes) and finally a few standard locations. Duplicates are removed.
func SearchPaths() []string {
	var paths []string
	paths = appendPathList(paths, os.Getenv(LibraryPathEnv))
	paths = appendPathList(paths, os.Getenv("LD_LIBRARY_PATH"))
	paths = loadLibraryPaths(paths, ldSoConf)
	paths = append(paths, standardLibraryPaths...)
	return dedupPaths(paths)
}

// appendPathList appends the absolute entries of the colon separated list.
func appendPathList(paths []string, list string) []string {
	for _, p := range strings.Split(list, ":") {
		if p == "" || !path.IsAbs(p) {
			// No empty or relative paths.
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

func dedupPaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	result := paths[:0]
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	return result
}

func loadLibraryPaths(paths []string, fileWithIncludes string) []string {
	klog.V(2).Infof("Loading paths for libraries from %q", fileWithIncludes)
	file, err := os.Open(fileWithIncludes)
	if err != nil {
		// Plenty of distributions (and containers) don't have one.
		klog.V(1).Infof("Failed to load paths for libraries from %q: %v", fileWithIncludes, err)
		return paths
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if parts := reLdConfInclude.FindStringSubmatch(line); len(parts) > 0 {
			pattern := parts[1]
			if !path.IsAbs(pattern) {
				// Relative includes are relative to the including file.
				pattern = filepath.Join(filepath.Dir(fileWithIncludes), pattern)
			}
			klog.V(2).Infof("loadLibraryPaths: include %q", pattern)
			files, err := filepath.Glob(pattern)
			if err != nil {
				klog.Errorf("Failed to load paths for libraries while expanding include entry %q: %v", pattern, err)
				continue
			}
			for _, includeFile := range files {
				paths = loadLibraryPaths(paths, includeFile)
			}

		} else if reLdConfComment.MatchString(line) {
			klog.V(2).Infof("loadLibraryPaths: comment %q", line)

		} else if strings.TrimSpace(line) == "" {
			continue

		} else if parts := reLdConfPath.FindStringSubmatch(line); len(parts) > 0 {
			klog.V(2).Infof("loadLibraryPaths: path %q", parts[1])
			paths = append(paths, parts[1])

		} else {
			klog.V(2).Infof("loadLibraryPaths: cannot parse line %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		klog.Errorf("Error while loading paths for libraries from %q: %v", fileWithIncludes, err)
	}
	return paths
}
