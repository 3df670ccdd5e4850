package nfsmount

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var archiveSuffixes = []string{".iso", ".img"}

// Target is an nfs:// URL split into host, absolute directory and file name.
type Target struct {
	Host string
	Dir  string
	File string
}

// Candidate is one export root to try. Archive is set when Root holds a disk
// image that must be loop-mounted; Sub is the directory relative to the root
// (or to the image) that contains the file.
type Candidate struct {
	Root    string
	Archive string
	Sub     string
}

// ParseURL splits nfs://host/dir/file. "nfs://host:/dir/file" is accepted too.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, err
	}
	if u.Scheme != "nfs" {
		return Target{}, fmt.Errorf("not an nfs url: %s", raw)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("nfs url without host: %s", raw)
	}
	clean := path.Clean("/" + u.Path)
	if clean == "/" {
		return Target{}, errors.New("nfs url does not name a file: " + raw)
	}
	dir, file := path.Split(clean)
	return Target{Host: host, Dir: path.Clean(dir), File: file}, nil
}

// Candidates lists export roots for dir, deepest first.
func Candidates(dir string) []Candidate {
	segs := splitPath(dir)
	for i, seg := range segs {
		if isArchive(seg) {
			return []Candidate{{
				Root:    "/" + strings.Join(segs[:i], "/"),
				Archive: seg,
				Sub:     strings.Join(segs[i+1:], "/"),
			}}
		}
	}

	out := make([]Candidate, 0, len(segs)+1)
	for i := len(segs); i >= 0; i-- {
		out = append(out, Candidate{
			Root: "/" + strings.Join(segs[:i], "/"),
			Sub:  strings.Join(segs[i:], "/"),
		})
	}
	return out
}

func splitPath(p string) []string {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return nil
	}
	return strings.Split(clean, "/")
}

func isArchive(seg string) bool {
	lower := strings.ToLower(seg)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return true
		}
	}
	return false
}

// under reports whether p equals root or lies below it.
func under(p, root string) bool {
	if root == "/" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
