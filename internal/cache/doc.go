// Package cache maps package URLs to files under a cache root and drives the
// chunked, resumable download loop that fills them. Each URL owns exactly one
// entry record (Empty, InFlight or Complete); an InFlight entry holds the open
// remote stream together with the partially written local file so a later fetch
// resumes where the previous one stopped. Writes for one URL are serialised by a
// refcounted per-URL lock, and concurrent full fetches of the same URL share a
// single transfer.
package cache
