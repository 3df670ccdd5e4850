// Package nfsmount resolves nfs:// URLs to files under a local mount point.
//
// The URL directory is not assumed to be the export root: candidate roots are
// tried from the deepest ancestor to "/". A path segment ending in an archive
// suffix (.iso, .img) is a root boundary by itself; its parent is mounted over
// NFS and the archive is loop-mounted on a second mount point. The manager keeps
// at most one active mount and reuses it while requests stay under its root.
package nfsmount
